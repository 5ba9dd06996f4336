// Package telegram 实现机器人平台的发送端和更新解析。
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
)

// Notifier 通过 Bot API 发送和编辑消息
type Notifier struct {
	bot *tgbotapi.BotAPI
	log *zap.Logger
}

// NewNotifier 创建发送端
//
// 不调用 getMe，启动时不依赖网络。
func NewNotifier(cfg config.TelegramConfig, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	bot := &tgbotapi.BotAPI{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: 30 * time.Second},
		Buffer: 100,
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot.SetAPIEndpoint(endpoint)

	return &Notifier{bot: bot, log: log}
}

// Send 发送一条带按钮的新消息
func (n *Notifier) Send(ctx context.Context, chatID int64, view domain.View) (domain.MessageHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.MessageHandle{}, err
	}

	msg := tgbotapi.NewMessage(chatID, view.Text)
	msg.DisableWebPagePreview = true
	if markup, ok := keyboard(view.Actions); ok {
		msg.ReplyMarkup = markup
	}

	sent, err := n.bot.Send(msg)
	if err != nil {
		return domain.MessageHandle{}, fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return domain.MessageHandle{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// Edit 原地替换消息文本和按钮
func (n *Notifier) Edit(ctx context.Context, handle domain.MessageHandle, view domain.View) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageText(handle.ChatID, handle.MessageID, view.Text)
	edit.DisableWebPagePreview = true
	if markup, ok := keyboard(view.Actions); ok {
		edit.ReplyMarkup = &markup
	}

	if _, err := n.bot.Request(edit); err != nil {
		return fmt.Errorf("edit message %d/%d: %w", handle.ChatID, handle.MessageID, err)
	}
	return nil
}

// Delete 删除消息
func (n *Notifier) Delete(ctx context.Context, handle domain.MessageHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.bot.Request(tgbotapi.NewDeleteMessage(handle.ChatID, handle.MessageID)); err != nil {
		return fmt.Errorf("delete message %d/%d: %w", handle.ChatID, handle.MessageID, err)
	}
	return nil
}

// AnswerCallback 应答按钮点击，alert 为 true 时弹窗显示
func (n *Notifier) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cb := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := n.bot.Request(cb); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// SetWebhook 设置更新推送地址
func (n *Notifier) SetWebhook(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := n.bot.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	// 路径中带有 bot token，只记录主机名
	n.log.Info("webhook registered", zap.String("host", wh.URL.Host))
	return nil
}

// RegisterCommands 设置机器人菜单中的命令
func (n *Notifier) RegisterCommands(ctx context.Context, commands []domain.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	list := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, c := range commands {
		list = append(list, tgbotapi.BotCommand{Command: c.Command, Description: c.Description})
	}
	if _, err := n.bot.Request(tgbotapi.NewSetMyCommands(list...)); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

// keyboard 把视图按钮转换为单行内联键盘
func keyboard(actions []domain.Action) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(actions) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		switch a.Kind {
		case domain.ActionURL:
			row = append(row, tgbotapi.NewInlineKeyboardButtonURL(a.Label, a.Value))
		default:
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Value))
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(row), true
}

var _ domain.Notifier = (*Notifier)(nil)
