package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
)

type recordedCall struct {
	method string
	form   url.Values
}

func newBotServer(t *testing.T) (*Notifier, *[]recordedCall) {
	t.Helper()
	return newBotServerWithLogger(t, nil)
}

func newBotServerWithLogger(t *testing.T, log *zap.Logger) (*Notifier, *[]recordedCall) {
	t.Helper()

	var (
		mu    sync.Mutex
		calls []recordedCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

		mu.Lock()
		calls = append(calls, recordedCall{method: method, form: r.PostForm})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if method == "sendMessage" {
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":0,"chat":{"id":7,"type":"private"}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	t.Cleanup(srv.Close)

	n := NewNotifier(config.TelegramConfig{
		Token:       "TOKEN",
		APIEndpoint: srv.URL + "/bot%s/%s",
	}, log)
	return n, &calls
}

func TestNotifier(t *testing.T) {
	ctx := context.Background()
	view := domain.View{
		Text: "subject",
		Actions: []domain.Action{
			{Label: "Preview", Kind: domain.ActionCallback, Value: "p:abc"},
			{Label: "Text", Kind: domain.ActionURL, Value: "https://mail.example.com/email/abc?mode=text"},
		},
	}

	t.Run("发送消息并返回句柄", func(t *testing.T) {
		n, calls := newBotServer(t)

		handle, err := n.Send(ctx, 7, view)
		require.NoError(t, err)
		assert.Equal(t, domain.MessageHandle{ChatID: 7, MessageID: 42}, handle)

		require.Len(t, *calls, 1)
		call := (*calls)[0]
		assert.Equal(t, "sendMessage", call.method)
		assert.Equal(t, "7", call.form.Get("chat_id"))
		assert.Equal(t, "true", call.form.Get("disable_web_page_preview"))
		assert.Contains(t, call.form.Get("reply_markup"), `"callback_data":"p:abc"`)
		assert.Contains(t, call.form.Get("reply_markup"), `"url":"https://mail.example.com/email/abc?mode=text"`)
	})

	t.Run("编辑和删除消息", func(t *testing.T) {
		n, calls := newBotServer(t)
		handle := domain.MessageHandle{ChatID: 7, MessageID: 42}

		require.NoError(t, n.Edit(ctx, handle, view))
		require.NoError(t, n.Delete(ctx, handle))

		require.Len(t, *calls, 2)
		assert.Equal(t, "editMessageText", (*calls)[0].method)
		assert.Equal(t, "42", (*calls)[0].form.Get("message_id"))
		assert.Equal(t, "deleteMessage", (*calls)[1].method)
	})

	t.Run("弹窗应答回调", func(t *testing.T) {
		n, calls := newBotServer(t)

		require.NoError(t, n.AnswerCallback(ctx, "cb1", "Error: Email not found or expired.", true))
		require.Len(t, *calls, 1)
		assert.Equal(t, "answerCallbackQuery", (*calls)[0].method)
		assert.Equal(t, "true", (*calls)[0].form.Get("show_alert"))
	})

	t.Run("注册webhook和命令", func(t *testing.T) {
		n, calls := newBotServer(t)

		require.NoError(t, n.SetWebhook(ctx, "https://mail.example.com/telegram/TOKEN/webhook"))
		require.NoError(t, n.RegisterCommands(ctx, []domain.BotCommand{{Command: "id", Description: "/id - Get your chat ID"}}))

		require.Len(t, *calls, 2)
		assert.Equal(t, "setWebhook", (*calls)[0].method)
		assert.Equal(t, "setMyCommands", (*calls)[1].method)
		assert.Contains(t, (*calls)[1].form.Get("commands"), `"command":"id"`)
	})

	t.Run("注册webhook时日志不含令牌", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		n, _ := newBotServerWithLogger(t, zap.New(core))

		require.NoError(t, n.SetWebhook(ctx, "https://mail.example.com/telegram/TOKEN/webhook"))

		entries := logs.FilterMessage("webhook registered").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "mail.example.com", entries[0].ContextMap()["host"])
		for _, entry := range logs.All() {
			assert.NotContains(t, entry.Message, "TOKEN")
			for key, value := range entry.ContextMap() {
				assert.NotContains(t, fmt.Sprint(value), "TOKEN", "字段 %s 泄露了令牌", key)
			}
		}
	})

	t.Run("上下文已取消时不发送", func(t *testing.T) {
		n, calls := newBotServer(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := n.Send(cancelled, 7, view)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, *calls)
	})
}

type recordingHandler struct {
	commands  []domain.CommandMessage
	callbacks []domain.CallbackEvent
}

func (h *recordingHandler) HandleCommand(_ context.Context, cmd domain.CommandMessage) error {
	h.commands = append(h.commands, cmd)
	return nil
}

func (h *recordingHandler) HandleCallback(_ context.Context, cb domain.CallbackEvent) error {
	h.callbacks = append(h.callbacks, cb)
	return nil
}

func TestDispatch(t *testing.T) {
	t.Run("命令消息", func(t *testing.T) {
		update, err := DecodeUpdate(strings.NewReader(`{"update_id":1,"message":{"message_id":5,"date":0,"chat":{"id":7,"type":"private"},"from":{"id":9,"is_bot":false,"first_name":"a"},"text":"/id"}}`))
		require.NoError(t, err)

		h := &recordingHandler{}
		require.NoError(t, Dispatch(context.Background(), update, h))

		assert.Equal(t, []domain.CommandMessage{{ChatID: 7, UserID: 9, Text: "/id"}}, h.commands)
		assert.Empty(t, h.callbacks)
	})

	t.Run("按钮回调", func(t *testing.T) {
		update, err := DecodeUpdate(strings.NewReader(`{"update_id":2,"callback_query":{"id":"cb1","from":{"id":9,"is_bot":false,"first_name":"a"},"message":{"message_id":42,"date":0,"chat":{"id":7,"type":"private"}},"data":"p:abc"}}`))
		require.NoError(t, err)

		h := &recordingHandler{}
		require.NoError(t, Dispatch(context.Background(), update, h))

		require.Len(t, h.callbacks, 1)
		assert.Equal(t, domain.CallbackEvent{
			ID:      "cb1",
			UserID:  9,
			Message: domain.MessageHandle{ChatID: 7, MessageID: 42},
			Data:    "p:abc",
		}, h.callbacks[0])
	})

	t.Run("非法请求体", func(t *testing.T) {
		_, err := DecodeUpdate(strings.NewReader("not json"))
		assert.Error(t, err)
	})

	t.Run("空更新被忽略", func(t *testing.T) {
		h := &recordingHandler{}
		require.NoError(t, Dispatch(context.Background(), tgbotapi.Update{UpdateID: 3}, h))
		assert.Empty(t, h.commands)
		assert.Empty(t, h.callbacks)
	})
}

func signedInitData(token string, authDate time.Time, user string) string {
	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("query_id", "AAH")
	if user != "" {
		values.Set("user", user)
	}
	values.Set("hash", signInitData(values, token))
	return values.Encode()
}

func TestValidateInitData(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	user := `{"id":123,"first_name":"A"}`

	t.Run("签名正确", func(t *testing.T) {
		got, err := ValidateInitData(signedInitData("TOKEN", now, user), "TOKEN", time.Hour, now)
		require.NoError(t, err)
		assert.Equal(t, int64(123), got.ID)
	})

	t.Run("令牌不同签名失败", func(t *testing.T) {
		_, err := ValidateInitData(signedInitData("OTHER", now, user), "TOKEN", time.Hour, now)
		assert.ErrorIs(t, err, ErrInitDataHash)
	})

	t.Run("篡改字段签名失败", func(t *testing.T) {
		data := signedInitData("TOKEN", now, user)
		data = strings.Replace(data, "query_id=AAH", "query_id=BBB", 1)
		_, err := ValidateInitData(data, "TOKEN", time.Hour, now)
		assert.ErrorIs(t, err, ErrInitDataHash)
	})

	t.Run("超过有效期", func(t *testing.T) {
		_, err := ValidateInitData(signedInitData("TOKEN", now.Add(-2*time.Hour), user), "TOKEN", time.Hour, now)
		assert.ErrorIs(t, err, ErrInitDataExpired)
	})

	t.Run("缺少用户", func(t *testing.T) {
		_, err := ValidateInitData(signedInitData("TOKEN", now, ""), "TOKEN", time.Hour, now)
		assert.ErrorIs(t, err, ErrInitDataUser)
	})
}
