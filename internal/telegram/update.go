package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/TBXark/mail2telegram/internal/domain"
)

// UpdateHandler 处理从更新中解析出的命令和按钮点击
type UpdateHandler interface {
	HandleCommand(ctx context.Context, cmd domain.CommandMessage) error
	HandleCallback(ctx context.Context, cb domain.CallbackEvent) error
}

// DecodeUpdate 从 webhook 请求体解析一条更新
func DecodeUpdate(r io.Reader) (tgbotapi.Update, error) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r).Decode(&update); err != nil {
		return update, fmt.Errorf("decode update: %w", err)
	}
	return update, nil
}

// Dispatch 把更新分发给处理器，无法识别的更新被忽略
func Dispatch(ctx context.Context, update tgbotapi.Update, h UpdateHandler) error {
	if msg := update.Message; msg != nil && msg.Chat != nil {
		cmd := domain.CommandMessage{ChatID: msg.Chat.ID, Text: msg.Text}
		if msg.From != nil {
			cmd.UserID = msg.From.ID
		}
		if err := h.HandleCommand(ctx, cmd); err != nil {
			return err
		}
	}

	if cq := update.CallbackQuery; cq != nil {
		cb := domain.CallbackEvent{ID: cq.ID, Data: cq.Data}
		if cq.From != nil {
			cb.UserID = cq.From.ID
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			cb.Message = domain.MessageHandle{ChatID: cq.Message.Chat.ID, MessageID: cq.Message.MessageID}
		}
		if err := h.HandleCallback(ctx, cb); err != nil {
			return err
		}
	}
	return nil
}
