package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/logger"
	"github.com/TBXark/mail2telegram/internal/service"
	"github.com/TBXark/mail2telegram/internal/telegram"
	httptransport "github.com/TBXark/mail2telegram/internal/transport/http"
)

// main 注册机器人 webhook 和命令菜单，效果等同于访问 /init
func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "请求超时")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateBot(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v（需要配置 MAIL2TG_TELEGRAM_TOKEN 和 MAIL2TG_DOMAIN）\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	notifier := telegram.NewNotifier(cfg.Telegram, log)
	if err := notifier.SetWebhook(ctx, httptransport.WebhookURL(cfg.Domain, cfg.Telegram.Token)); err != nil {
		fmt.Fprintf(os.Stderr, "错误: 设置 webhook 失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ webhook 已设置: https://%s/telegram/<token>/webhook\n", cfg.Domain)

	commands := service.Commands()
	if err := notifier.RegisterCommands(ctx, commands); err != nil {
		fmt.Fprintf(os.Stderr, "错误: 注册命令失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ 已注册 %d 条命令\n", len(commands))
}
