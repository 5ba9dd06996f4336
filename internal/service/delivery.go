package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
	"github.com/TBXark/mail2telegram/internal/monitoring"
)

// RejectReason 是被拦截邮件的拒收原因
const RejectReason = "Blocked"

// BlockEvaluator 判断一组地址是否应被拦截
type BlockEvaluator interface {
	Evaluate(ctx context.Context, addresses ...string) bool
}

// MessageParser 把入站邮件解析为缓存记录
type MessageParser interface {
	Parse(msg domain.InboundMessage) *domain.EmailRecord
}

// ListRenderer 渲染通知用的列表视图
type ListRenderer interface {
	List(record *domain.EmailRecord) domain.View
}

// DeliveryStore 是投递流程用到的持久化操作
type DeliveryStore interface {
	LoadStatus(ctx context.Context, messageID string, guardian bool) domain.DeliveryStatus
	SaveStatus(ctx context.Context, messageID string, status domain.DeliveryStatus, ttl time.Duration) error
	SaveCache(ctx context.Context, record *domain.EmailRecord, ttl time.Duration) error
	SaveTelegramMapping(ctx context.Context, handle domain.MessageHandle, recordID string, ttl time.Duration) error
}

// DeliveryReport 记录一次投递的结果
type DeliveryReport struct {
	Blocked       bool
	Rejected      bool
	Forwarded     []string
	ForwardFailed []string
	Skipped       []string // 之前已成功转发的目标
	Notified      bool
	RecordID      string
}

// DeliveryService 处理单封入站邮件：拦截判定、转发和通知
type DeliveryService struct {
	mail     config.MailConfig
	chatIDs  []int64
	policy   BlockEvaluator
	store    DeliveryStore
	parser   MessageParser
	renderer ListRenderer
	notifier domain.Notifier
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewDeliveryService 创建投递服务
func NewDeliveryService(
	cfg *config.Config,
	policy BlockEvaluator,
	store DeliveryStore,
	parser MessageParser,
	renderer ListRenderer,
	notifier domain.Notifier,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *DeliveryService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeliveryService{
		mail:     cfg.Mail,
		chatIDs:  cfg.Telegram.ChatIDList(),
		policy:   policy,
		store:    store,
		parser:   parser,
		renderer: renderer,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
	}
}

// Handle 处理一封入站邮件
//
// 转发和通知两个阶段相互独立，任何一个阶段的失败都只记录日志。
// 被拦截且策略包含 reject 时直接拒收，不再尝试其他通道。
func (s *DeliveryService) Handle(ctx context.Context, msg domain.InboundMessage) DeliveryReport {
	start := time.Now()
	defer func() { s.metrics.RecordMailProcessingTime(time.Since(start)) }()
	s.metrics.RecordMailReceived(msg.Size())

	messageID := strings.TrimSpace(msg.Header("Message-ID"))
	log := s.log.With(
		zap.String("from", msg.From()),
		zap.String("to", msg.To()),
		zap.String("message_id", messageID),
	)

	var report DeliveryReport
	report.Blocked = s.policy.Evaluate(ctx, msg.From(), msg.To())
	if report.Blocked {
		s.metrics.RecordMailBlocked()
		log.Info("message matched block list")
	}

	if report.Blocked && s.mail.HasBlockPolicy(domain.BlockPolicyReject) {
		msg.Reject(RejectReason)
		s.metrics.RecordMailRejected()
		log.Info("message rejected")
		report.Rejected = true
		return report
	}

	guardian := s.mail.GuardianMode && messageID != ""
	status := s.store.LoadStatus(ctx, messageID, guardian)

	s.forwardPhase(ctx, msg, messageID, guardian, &status, &report, log)
	s.notifyPhase(ctx, msg, messageID, guardian, &status, &report, log)

	return report
}

func (s *DeliveryService) forwardTargets(blocked bool) []string {
	if blocked && s.mail.HasBlockPolicy(domain.BlockPolicyForward) {
		return nil
	}
	return s.mail.ForwardList
}

func (s *DeliveryService) forwardPhase(
	ctx context.Context,
	msg domain.InboundMessage,
	messageID string,
	guardian bool,
	status *domain.DeliveryStatus,
	report *DeliveryReport,
	log *zap.Logger,
) {
	for _, raw := range s.forwardTargets(report.Blocked) {
		target := strings.TrimSpace(raw)
		if target == "" {
			continue
		}
		if status.HasForwarded(target) {
			report.Skipped = append(report.Skipped, target)
			s.metrics.RecordForward("skipped")
			continue
		}

		if err := msg.Forward(ctx, target); err != nil {
			report.ForwardFailed = append(report.ForwardFailed, target)
			s.metrics.RecordForward("failure")
			log.Error("forward failed", zap.String("target", target), zap.Error(err))
			continue
		}

		report.Forwarded = append(report.Forwarded, target)
		s.metrics.RecordForward("success")
		log.Info("message forwarded", zap.String("target", target))

		if guardian {
			status.MarkForwarded(target)
			if err := s.store.SaveStatus(ctx, messageID, *status, s.mail.StatusTTL); err != nil {
				log.Warn("save delivery status failed", zap.Error(err))
			}
		}
	}
}

func (s *DeliveryService) notifyPhase(
	ctx context.Context,
	msg domain.InboundMessage,
	messageID string,
	guardian bool,
	status *domain.DeliveryStatus,
	report *DeliveryReport,
	log *zap.Logger,
) {
	if status.Notified {
		s.metrics.RecordNotify("skipped")
		return
	}
	if report.Blocked && s.mail.HasBlockPolicy(domain.BlockPolicyTelegram) {
		s.metrics.RecordNotify("blocked")
		return
	}

	if msg.Size() > s.mail.MaxSize {
		s.metrics.RecordParseOverflow(s.mail.MaxSizePolicy)
	}
	record := s.parser.Parse(msg)
	report.RecordID = record.ID

	if err := s.store.SaveCache(ctx, record, s.mail.TTL); err != nil {
		// 缓存写失败时按钮会指向不存在的记录，仍然发送通知
		log.Warn("save mail cache failed", zap.String("id", record.ID), zap.Error(err))
	}

	view := s.renderer.List(record)
	sent := 0
	for _, chatID := range s.chatIDs {
		handle, err := s.notifier.Send(ctx, chatID, view)
		if err != nil {
			s.metrics.RecordNotify("failure")
			log.Error("notify failed", zap.Int64("chat_id", chatID), zap.Error(err))
			continue
		}
		sent++
		s.metrics.RecordNotify("success")

		if err := s.store.SaveTelegramMapping(ctx, handle, record.ID, s.mail.TTL); err != nil {
			log.Warn("save message mapping failed", zap.Error(err))
		}
	}

	if sent == 0 {
		return
	}
	report.Notified = true
	log.Info("notification sent", zap.String("id", record.ID), zap.Int("recipients", sent))

	if guardian {
		status.Notified = true
		if err := s.store.SaveStatus(ctx, messageID, *status, s.mail.StatusTTL); err != nil {
			log.Warn("save delivery status failed", zap.Error(err))
		}
	}
}
