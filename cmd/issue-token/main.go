package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	jwtpkg "github.com/TBXark/mail2telegram/internal/auth/jwt"
	"github.com/TBXark/mail2telegram/internal/config"
)

// main 为管理员签发地址管理 API 的 Bearer 令牌
func main() {
	adminID := flag.Int64("id", 0, "管理员会话 ID（必须在 telegram.id 列表中）")
	expiry := flag.Duration("expiry", 0, "有效期，默认使用 jwt.expiry 配置")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if *adminID == 0 {
		fmt.Fprintln(os.Stderr, "用法: issue-token -id=<管理员会话 ID> [-expiry=720h]")
		os.Exit(1)
	}
	if !cfg.Telegram.IsAdmin(*adminID) {
		fmt.Fprintf(os.Stderr, "错误: %d 不在管理员列表中\n", *adminID)
		os.Exit(1)
	}

	ttl := cfg.JWT.Expiry
	if *expiry > 0 {
		ttl = *expiry
	}

	manager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, ttl)
	token, expiresAt, err := manager.IssueToken(*adminID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 签发令牌失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "✓ 令牌有效期至 %s\n", expiresAt.Format(time.RFC3339))
}
