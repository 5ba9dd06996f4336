// Package forward 把原始邮件转发到其他邮箱。
package forward

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-smtp"
)

// Forwarder 把一封原始邮件投递给单个收件人
type Forwarder interface {
	Forward(ctx context.Context, from, to string, raw []byte) error
	Name() string
}

// RelayError 区分永久失败和临时失败
type RelayError struct {
	Err       error
	Permanent bool
}

func (e *RelayError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent failure: %v", e.Err)
	}
	return fmt.Sprintf("temporary failure: %v", e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// IsPermanentError 报告错误是否为永久失败，重试不会成功
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Permanent
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return !smtpErr.Temporary()
	}
	return false
}

// Noop 在未配置转发通道时使用，每次调用都返回错误
type Noop struct{}

// ErrNotConfigured 未配置转发通道
var ErrNotConfigured = errors.New("forwarding is not configured")

func (Noop) Forward(context.Context, string, string, []byte) error {
	return &RelayError{Err: ErrNotConfigured, Permanent: true}
}

func (Noop) Name() string { return "none" }
