package forward

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TBXark/mail2telegram/internal/config"
)

type mockSES struct {
	mock.Mock
}

func (m *mockSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sesv2.SendEmailOutput)
	return out, args.Error(1)
}

func TestSESForwarder(t *testing.T) {
	raw := []byte("Subject: hi\r\n\r\nbody\r\n")

	t.Run("发送原始邮件", func(t *testing.T) {
		client := &mockSES{}
		client.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
			return in.Content.Raw != nil &&
				string(in.Content.Raw.Data) == string(raw) &&
				len(in.Destination.ToAddresses) == 1 &&
				in.Destination.ToAddresses[0] == "b@y.com" &&
				*in.FromEmailAddress == "relay@example.com"
		})).Return(&sesv2.SendEmailOutput{}, nil).Once()

		f := NewSESForwarderWithClient("relay@example.com", client, nil)
		require.NoError(t, f.Forward(context.Background(), "a@x.com", "b@y.com", raw))
		client.AssertExpectations(t)
	})

	t.Run("没有配置发件人时沿用信封发件人", func(t *testing.T) {
		client := &mockSES{}
		client.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
			return *in.FromEmailAddress == "a@x.com"
		})).Return(&sesv2.SendEmailOutput{}, nil).Once()

		f := NewSESForwarderWithClient("", client, nil)
		require.NoError(t, f.Forward(context.Background(), "a@x.com", "b@y.com", raw))
		client.AssertExpectations(t)
	})

	t.Run("接口错误视为临时失败", func(t *testing.T) {
		client := &mockSES{}
		client.On("SendEmail", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

		err := NewSESForwarderWithClient("", client, nil).Forward(context.Background(), "a@x.com", "b@y.com", raw)
		require.Error(t, err)
		assert.False(t, IsPermanentError(err))
	})
}

type relayBackend struct {
	mu       sync.Mutex
	from     string
	rcpts    []string
	data     []byte
	rejectTo string
}

func (b *relayBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &relaySession{b: b}, nil
}

type relaySession struct {
	b *relayBackend
}

func (s *relaySession) Mail(from string, _ *smtp.MailOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if to == s.b.rejectTo {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "no such user"}
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.rcpts = append(s.b.rcpts, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.data = data
	return nil
}

func (s *relaySession) Reset()        {}
func (s *relaySession) Logout() error { return nil }

func startRelay(t *testing.T, be *relayBackend) string {
	t.Helper()

	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return l.Addr().String()
}

func TestSMTPForwarder(t *testing.T) {
	raw := []byte("Subject: hi\r\n\r\nbody\r\n")

	t.Run("投递到中继", func(t *testing.T) {
		be := &relayBackend{}
		addr := startRelay(t, be)

		f := NewSMTPForwarder(config.ForwardSMTPConfig{Addr: addr}, nil)
		require.NoError(t, f.Forward(context.Background(), "a@x.com", "b@y.com", raw))

		be.mu.Lock()
		defer be.mu.Unlock()
		assert.Equal(t, "a@x.com", be.from)
		assert.Equal(t, []string{"b@y.com"}, be.rcpts)
		assert.Contains(t, string(be.data), "body")
	})

	t.Run("配置的发件人覆盖信封", func(t *testing.T) {
		be := &relayBackend{}
		addr := startRelay(t, be)

		f := NewSMTPForwarder(config.ForwardSMTPConfig{Addr: addr, Sender: "relay@example.com"}, nil)
		require.NoError(t, f.Forward(context.Background(), "a@x.com", "b@y.com", raw))

		be.mu.Lock()
		defer be.mu.Unlock()
		assert.Equal(t, "relay@example.com", be.from)
	})

	t.Run("收件人被拒绝是永久失败", func(t *testing.T) {
		be := &relayBackend{rejectTo: "gone@y.com"}
		addr := startRelay(t, be)

		err := NewSMTPForwarder(config.ForwardSMTPConfig{Addr: addr}, nil).
			Forward(context.Background(), "a@x.com", "gone@y.com", raw)
		require.Error(t, err)
		assert.True(t, IsPermanentError(err))
	})

	t.Run("连接失败是临时失败", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().String()
		require.NoError(t, l.Close())

		err = NewSMTPForwarder(config.ForwardSMTPConfig{Addr: addr}, nil).
			Forward(context.Background(), "a@x.com", "b@y.com", raw)
		require.Error(t, err)
		assert.False(t, IsPermanentError(err))
	})

	t.Run("未配置地址", func(t *testing.T) {
		err := NewSMTPForwarder(config.ForwardSMTPConfig{}, nil).Forward(context.Background(), "a", "b", raw)
		assert.True(t, IsPermanentError(err))
	})
}

func TestNoop(t *testing.T) {
	err := Noop{}.Forward(context.Background(), "a", "b", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.True(t, IsPermanentError(err))
}
