package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
	"github.com/TBXark/mail2telegram/internal/mail"
	"github.com/TBXark/mail2telegram/internal/policy"
	"github.com/TBXark/mail2telegram/internal/render"
	"github.com/TBXark/mail2telegram/internal/storage"
	"github.com/TBXark/mail2telegram/internal/storage/memory"
)

// MockNotifier 模拟机器人发送端
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, chatID int64, view domain.View) (domain.MessageHandle, error) {
	args := m.Called(ctx, chatID, view)
	return args.Get(0).(domain.MessageHandle), args.Error(1)
}

func (m *MockNotifier) Edit(ctx context.Context, handle domain.MessageHandle, view domain.View) error {
	args := m.Called(ctx, handle, view)
	return args.Error(0)
}

func (m *MockNotifier) Delete(ctx context.Context, handle domain.MessageHandle) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

func (m *MockNotifier) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	args := m.Called(ctx, callbackID, text, alert)
	return args.Error(0)
}

func (m *MockNotifier) SetWebhook(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockNotifier) RegisterCommands(ctx context.Context, commands []domain.BotCommand) error {
	args := m.Called(ctx, commands)
	return args.Error(0)
}

// fakeInbound 是一封内存中的入站邮件
type fakeInbound struct {
	from, to   string
	headers    map[string]string
	raw        []byte
	rejected   string
	forwarded  []string
	failTarget map[string]error
}

func newFakeInbound(from, to, messageID string) *fakeInbound {
	raw := "From: " + from + "\r\nTo: " + to + "\r\nSubject: Hello\r\n\r\nhello body\r\n"
	return &fakeInbound{
		from:       from,
		to:         to,
		headers:    map[string]string{"Message-ID": messageID, "Subject": "Hello"},
		raw:        []byte(raw),
		failTarget: map[string]error{},
	}
}

func (m *fakeInbound) From() string              { return m.from }
func (m *fakeInbound) To() string                { return m.to }
func (m *fakeInbound) Header(name string) string { return m.headers[name] }
func (m *fakeInbound) Size() int64               { return int64(len(m.raw)) }
func (m *fakeInbound) Raw() io.Reader            { return bytes.NewReader(m.raw) }
func (m *fakeInbound) Reject(reason string)      { m.rejected = reason }

func (m *fakeInbound) Forward(_ context.Context, target string) error {
	if err := m.failTarget[target]; err != nil {
		return err
	}
	m.forwarded = append(m.forwarded, target)
	return nil
}

type deliveryFixture struct {
	svc      *DeliveryService
	store    *storage.MailStore
	notifier *MockNotifier
}

func newDeliveryFixture(t *testing.T, mailCfg config.MailConfig) *deliveryFixture {
	t.Helper()

	if mailCfg.MaxSize == 0 {
		mailCfg.MaxSize = 512 * 1024
	}
	if mailCfg.TTL == 0 {
		mailCfg.TTL = time.Hour
	}
	if mailCfg.StatusTTL == 0 {
		mailCfg.StatusTTL = time.Hour
	}
	cfg := &config.Config{
		Domain:   "mail.example.com",
		Telegram: config.TelegramConfig{Token: "TOKEN", ChatIDs: []string{"100", "200"}},
		Mail:     mailCfg,
	}

	store := storage.NewMailStore(memory.NewStore(), nil)
	pol := policy.New(cfg.Mail, store)
	notifier := &MockNotifier{}

	svc := NewDeliveryService(
		cfg,
		pol,
		store,
		mail.NewParser(cfg.Mail),
		render.NewRenderer(cfg, nil, pol, nil),
		notifier,
		nil,
		nil,
	)
	return &deliveryFixture{svc: svc, store: store, notifier: notifier}
}

func (f *deliveryFixture) expectSends() {
	f.notifier.On("Send", mock.Anything, int64(100), mock.Anything).Return(domain.MessageHandle{ChatID: 100, MessageID: 1}, nil)
	f.notifier.On("Send", mock.Anything, int64(200), mock.Anything).Return(domain.MessageHandle{ChatID: 200, MessageID: 2}, nil)
}

func TestDeliveryService_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("拦截且策略含reject时只拒收", func(t *testing.T) {
		f := newDeliveryFixture(t, config.MailConfig{
			BlockList:   []string{`.*@x\.com`},
			BlockPolicy: []string{"reject", "telegram"},
			ForwardList: []string{"b@y.com"},
		})
		msg := newFakeInbound("a@x.com", "me@home.com", "<m1@x.com>")

		report := f.svc.Handle(ctx, msg)

		assert.True(t, report.Rejected)
		assert.Equal(t, RejectReason, msg.rejected)
		assert.Empty(t, msg.forwarded)
		f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("拦截且策略为telegram时转发但不通知", func(t *testing.T) {
		f := newDeliveryFixture(t, config.MailConfig{
			BlockList:   []string{`.*@x\.com`},
			BlockPolicy: []string{"telegram"},
			ForwardList: []string{"b@y.com"},
		})
		msg := newFakeInbound("a@x.com", "me@home.com", "<m2@x.com>")

		report := f.svc.Handle(ctx, msg)

		assert.True(t, report.Blocked)
		assert.False(t, report.Rejected)
		assert.Empty(t, msg.rejected)
		assert.Equal(t, []string{"b@y.com"}, msg.forwarded)
		assert.False(t, report.Notified)
		f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("拦截且策略为forward时只通知", func(t *testing.T) {
		f := newDeliveryFixture(t, config.MailConfig{
			BlockList:   []string{`.*@x\.com`},
			BlockPolicy: []string{"forward"},
			ForwardList: []string{"b@y.com"},
		})
		f.expectSends()
		msg := newFakeInbound("a@x.com", "me@home.com", "<m3@x.com>")

		report := f.svc.Handle(ctx, msg)

		assert.Empty(t, msg.forwarded)
		assert.True(t, report.Notified)
	})

	t.Run("正常邮件转发并通知所有管理员", func(t *testing.T) {
		f := newDeliveryFixture(t, config.MailConfig{ForwardList: []string{" b@y.com ", ""}})
		f.expectSends()
		msg := newFakeInbound("a@x.com", "me@home.com", "<m4@x.com>")

		report := f.svc.Handle(ctx, msg)

		assert.Equal(t, []string{"b@y.com"}, msg.forwarded)
		assert.True(t, report.Notified)
		f.notifier.AssertNumberOfCalls(t, "Send", 2)

		record, ok := f.store.LoadCache(ctx, report.RecordID)
		require.True(t, ok)
		assert.Equal(t, "<m4@x.com>", record.MessageID)
		assert.Contains(t, record.Text, "hello body")

		id, ok := f.store.LoadTelegramMapping(ctx, domain.MessageHandle{ChatID: 200, MessageID: 2})
		assert.True(t, ok)
		assert.Equal(t, report.RecordID, id)
	})

	t.Run("守护模式下重复投递不再重复发送", func(t *testing.T) {
		f := newDeliveryFixture(t, config.MailConfig{
			GuardianMode: true,
			ForwardList:  []string{"b@y.com"},
		})
		f.expectSends()
		msg := newFakeInbound("a@x.com", "me@home.com", "<m5@x.com>")

		first := f.svc.Handle(ctx, msg)
		second := f.svc.Handle(ctx, msg)

		assert.Equal(t, []string{"b@y.com"}, first.Forwarded)
		assert.Empty(t, second.Forwarded)
		assert.Equal(t, []string{"b@y.com"}, second.Skipped)
		assert.Equal(t, []string{"b@y.com"}, msg.forwarded)
		assert.False(t, second.Notified)
		f.notifier.AssertNumberOfCalls(t, "Send", 2)

		status := f.store.LoadStatus(ctx, "<m5@x.com>", true)
		assert.True(t, status.Notified)
		assert.Equal(t, []string{"b@y.com"}, status.ForwardedTo)
	})

	t.Run("关闭守护模式时每次都重新发送", func(t *testing.T) {
		f := newDeliveryFixture(t, config.MailConfig{ForwardList: []string{"b@y.com"}})
		f.expectSends()
		msg := newFakeInbound("a@x.com", "me@home.com", "<m6@x.com>")

		f.svc.Handle(ctx, msg)
		f.svc.Handle(ctx, msg)

		assert.Equal(t, []string{"b@y.com", "b@y.com"}, msg.forwarded)
		f.notifier.AssertNumberOfCalls(t, "Send", 4)
	})

	t.Run("缺少Message-ID时不记录状态", func(t *testing.T) {
		f := newDeliveryFixture(t, config.MailConfig{GuardianMode: true})
		f.expectSends()
		msg := newFakeInbound("a@x.com", "me@home.com", "")

		f.svc.Handle(ctx, msg)
		f.svc.Handle(ctx, msg)

		f.notifier.AssertNumberOfCalls(t, "Send", 4)
	})

	t.Run("单个转发目标失败不影响其他目标和通知", func(t *testing.T) {
		f := newDeliveryFixture(t, config.MailConfig{
			GuardianMode: true,
			ForwardList:  []string{"bad@y.com", "good@y.com"},
		})
		f.expectSends()
		msg := newFakeInbound("a@x.com", "me@home.com", "<m7@x.com>")
		msg.failTarget["bad@y.com"] = errors.New("connection refused")

		report := f.svc.Handle(ctx, msg)

		assert.Equal(t, []string{"bad@y.com"}, report.ForwardFailed)
		assert.Equal(t, []string{"good@y.com"}, report.Forwarded)
		assert.True(t, report.Notified)

		status := f.store.LoadStatus(ctx, "<m7@x.com>", true)
		assert.Equal(t, []string{"good@y.com"}, status.ForwardedTo)
	})

	t.Run("全部通知失败时保持未通知", func(t *testing.T) {
		f := newDeliveryFixture(t, config.MailConfig{GuardianMode: true})
		f.notifier.On("Send", mock.Anything, mock.Anything, mock.Anything).
			Return(domain.MessageHandle{}, errors.New("bot api down"))
		msg := newFakeInbound("a@x.com", "me@home.com", "<m8@x.com>")

		report := f.svc.Handle(ctx, msg)

		assert.False(t, report.Notified)
		assert.False(t, f.store.LoadStatus(ctx, "<m8@x.com>", true).Notified)
	})

	t.Run("部分通知成功即标记已通知", func(t *testing.T) {
		f := newDeliveryFixture(t, config.MailConfig{GuardianMode: true})
		f.notifier.On("Send", mock.Anything, int64(100), mock.Anything).
			Return(domain.MessageHandle{}, errors.New("chat not found"))
		f.notifier.On("Send", mock.Anything, int64(200), mock.Anything).
			Return(domain.MessageHandle{ChatID: 200, MessageID: 9}, nil)
		msg := newFakeInbound("a@x.com", "me@home.com", "<m9@x.com>")

		report := f.svc.Handle(ctx, msg)

		assert.True(t, report.Notified)
		assert.True(t, f.store.LoadStatus(ctx, "<m9@x.com>", true).Notified)
	})
}
