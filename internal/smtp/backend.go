// Package smtp 实现只接收邮件的 SMTP 服务器，每个收件人走一遍投递流程。
package smtp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/domain"
	"github.com/TBXark/mail2telegram/internal/forward"
	"github.com/TBXark/mail2telegram/internal/monitoring"
	"github.com/TBXark/mail2telegram/internal/service"
)

// defaultProcessTimeout 是单封邮件投递流程的超时时间
const defaultProcessTimeout = 2 * time.Minute

// Deliverer 处理单个收件人上的入站邮件
type Deliverer interface {
	Handle(ctx context.Context, msg domain.InboundMessage) service.DeliveryReport
}

// Options 是 Backend 的可选参数
type Options struct {
	MaxRecipients  int
	Limiter        *ConnectionLimiter
	ProcessTimeout time.Duration
	Metrics        *monitoring.Metrics
	Logger         *zap.Logger
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 服务器只接收邮件，不做中继。所有收件人都会被接受，
// 是否拒收由投递流程的名单判定决定，并在 DATA 阶段统一答复。
type Backend struct {
	deliverer      Deliverer
	forwarder      forward.Forwarder
	maxRecipients  int
	limiter        *ConnectionLimiter
	processTimeout time.Duration
	metrics        *monitoring.Metrics
	log            *zap.Logger
}

// NewBackend 创建 SMTP Backend
func NewBackend(deliverer Deliverer, forwarder forward.Forwarder, opts Options) *Backend {
	b := &Backend{
		deliverer:      deliverer,
		forwarder:      forwarder,
		maxRecipients:  opts.MaxRecipients,
		limiter:        opts.Limiter,
		processTimeout: opts.ProcessTimeout,
		metrics:        opts.Metrics,
		log:            opts.Logger,
	}
	if b.processTimeout <= 0 {
		b.processTimeout = defaultProcessTimeout
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	return b
}

// NewSession 创建新的 SMTP 会话，超过连接限制时返回 421
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}

	if b.limiter != nil && !b.limiter.Acquire() {
		b.metrics.RecordRateLimitBlock("smtp_connection")
		b.log.Warn("smtp connection limited", zap.String("remote", remote))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}

	return &session{
		backend: b,
		log:     b.log.With(zap.String("remote", remote)),
	}, nil
}

type session struct {
	backend    *Backend
	log        *zap.Logger
	from       string
	size       int64
	recipients []string
	released   bool
}

// Mail 处理 MAIL 命令
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.from = strings.Trim(strings.TrimSpace(from), "<>")
	s.size = 0
	if opts != nil {
		s.size = opts.Size
	}
	return nil
}

// Rcpt 处理 RCPT 命令
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)
	if !strings.Contains(addr, "@") {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	if limit := s.backend.maxRecipients; limit > 0 && len(s.recipients) >= limit {
		return &gosmtp.SMTPError{
			Code:         452,
			EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
			Message:      "too many recipients",
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 读取邮件内容并对每个收件人运行投递流程
//
// 全部收件人都被拒收时返回 550，其余情况返回成功，
// 转发和通知失败只记录日志，不影响答复。
func (s *session) Data(r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("read message data: %w", err)
	}
	raw := buf.Bytes()
	header := readHeader(raw)

	ctx, cancel := context.WithTimeout(context.Background(), s.backend.processTimeout)
	defer cancel()

	rejected := 0
	reason := service.RejectReason
	for _, rcpt := range s.recipients {
		msg := &inboundMessage{
			from:      s.from,
			to:        rcpt,
			header:    header,
			raw:       raw,
			size:      s.size,
			forwarder: s.backend.forwarder,
		}
		report := s.backend.deliverer.Handle(ctx, msg)
		if msg.rejected {
			rejected++
			reason = msg.rejectReason
		}
		s.log.Debug("recipient processed",
			zap.String("to", rcpt),
			zap.Bool("rejected", msg.rejected),
			zap.Int("forwarded", len(report.Forwarded)),
			zap.Bool("notified", report.Notified),
		)
	}

	if len(s.recipients) > 0 && rejected == len(s.recipients) {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      reason,
		}
	}
	return nil
}

// Reset 重置事务状态
func (s *session) Reset() {
	s.from = ""
	s.size = 0
	s.recipients = nil
}

// Logout 会话结束，归还连接许可
func (s *session) Logout() error {
	if !s.released && s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	s.released = true
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
