package forward

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/config"
)

// SMTPForwarder 通过 SMTP 中继转发邮件
type SMTPForwarder struct {
	cfg config.ForwardSMTPConfig
	log *zap.Logger
}

// NewSMTPForwarder 创建 SMTP 转发器
func NewSMTPForwarder(cfg config.ForwardSMTPConfig, log *zap.Logger) *SMTPForwarder {
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTPForwarder{cfg: cfg, log: log}
}

func (f *SMTPForwarder) Name() string { return "smtp" }

// Forward 建立一次连接投递单个收件人
func (f *SMTPForwarder) Forward(ctx context.Context, from, to string, raw []byte) error {
	if f.cfg.Addr == "" {
		return &RelayError{Err: fmt.Errorf("SMTP relay address not configured"), Permanent: true}
	}
	if err := ctx.Err(); err != nil {
		return &RelayError{Err: err, Permanent: false}
	}
	if f.cfg.Sender != "" {
		from = f.cfg.Sender
	}

	c, err := f.dial()
	if err != nil {
		return &RelayError{Err: err, Permanent: false}
	}
	defer c.Close()

	if f.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", f.cfg.Username, f.cfg.Password)); err != nil {
			return &RelayError{Err: fmt.Errorf("failed to authenticate: %w", err), Permanent: IsPermanentError(err)}
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to set sender: %w", err), Permanent: IsPermanentError(err)}
	}
	if err := c.Rcpt(to, nil); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to set recipient: %w", err), Permanent: IsPermanentError(err)}
	}

	wc, err := c.Data()
	if err != nil {
		return &RelayError{Err: fmt.Errorf("failed to start data: %w", err), Permanent: IsPermanentError(err)}
	}
	if _, err := bytes.NewReader(raw).WriteTo(wc); err != nil {
		_ = wc.Close()
		return &RelayError{Err: fmt.Errorf("failed to write message: %w", err), Permanent: false}
	}
	if err := wc.Close(); err != nil {
		return &RelayError{Err: fmt.Errorf("failed to close data writer: %w", err), Permanent: IsPermanentError(err)}
	}

	if err := c.Quit(); err != nil {
		f.log.Warn("failed to send QUIT", zap.String("relay", f.cfg.Addr), zap.Error(err))
	}

	f.log.Debug("message relayed", zap.String("relay", f.cfg.Addr), zap.String("to", to))
	return nil
}

func (f *SMTPForwarder) dial() (*smtp.Client, error) {
	host, _, err := net.SplitHostPort(f.cfg.Addr)
	if err != nil {
		host = f.cfg.Addr
	}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         host,
		InsecureSkipVerify: f.cfg.InsecureSkipVerify,
	}

	switch {
	case f.cfg.TLS:
		c, err := smtp.DialTLS(f.cfg.Addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP relay with TLS: %w", err)
		}
		return c, nil
	case f.cfg.StartTLS:
		c, err := smtp.DialStartTLS(f.cfg.Addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP relay with STARTTLS: %w", err)
		}
		return c, nil
	default:
		c, err := smtp.Dial(f.cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP relay: %w", err)
		}
		return c, nil
	}
}

var _ Forwarder = (*SMTPForwarder)(nil)
