package monitoring

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record 方法在接收者为 nil 时什么也不做，测试中可以直接传 nil。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 邮件流水线指标
	MailsReceived       prometheus.Counter
	MailsRejected       prometheus.Counter
	MailsBlocked        prometheus.Counter
	ForwardResults      *prometheus.CounterVec
	NotifyResults       *prometheus.CounterVec
	MailProcessingTime  prometheus.Histogram
	MailSizeBytes       prometheus.Histogram
	ParseOverflowsTotal *prometheus.CounterVec

	// 机器人指标
	CommandsTotal  *prometheus.CounterVec
	CallbacksTotal *prometheus.CounterVec
	SummaryResults *prometheus.CounterVec

	// 系统指标
	SystemUptime prometheus.Gauge
	MemoryUsage  prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics 在 reg 上注册监控指标
//
// reg 为 nil 时使用默认注册表。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2telegram_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mail2telegram_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mail2telegram_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		MailsReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mail2telegram_mails_received_total",
				Help: "Total number of inbound mails handled, one per recipient",
			},
		),

		MailsRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mail2telegram_mails_rejected_total",
				Help: "Total number of inbound mails rejected by block policy",
			},
		),

		MailsBlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mail2telegram_mails_blocked_total",
				Help: "Total number of inbound mails classified as blocked",
			},
		),

		ForwardResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2telegram_forward_total",
				Help: "Forward attempts by outcome",
			},
			[]string{"outcome"},
		),

		NotifyResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2telegram_notify_total",
				Help: "Notification sends by outcome",
			},
			[]string{"outcome"},
		),

		MailProcessingTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mail2telegram_mail_processing_duration_seconds",
				Help:    "Time spent handling one inbound mail",
				Buckets: prometheus.DefBuckets,
			},
		),

		MailSizeBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mail2telegram_mail_size_bytes",
				Help:    "Declared size of inbound mails",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		ParseOverflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2telegram_parse_overflow_total",
				Help: "Mails exceeding the size limit by overflow policy",
			},
			[]string{"policy"},
		),

		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2telegram_bot_commands_total",
				Help: "Bot commands by name",
			},
			[]string{"command"},
		),

		CallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2telegram_bot_callbacks_total",
				Help: "Bot callbacks by action and outcome",
			},
			[]string{"action", "outcome"},
		),

		SummaryResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2telegram_summary_total",
				Help: "Summary requests by outcome",
			},
			[]string{"outcome"},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mail2telegram_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mail2telegram_memory_usage_bytes",
				Help: "Memory usage in bytes",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2telegram_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mail2telegram_panics_total",
				Help: "Total number of panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail2telegram_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"type"},
		),

		gatherer: gatherer,
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordMailReceived 记录一封入站邮件
func (m *Metrics) RecordMailReceived(size int64) {
	if m == nil {
		return
	}
	m.MailsReceived.Inc()
	m.MailSizeBytes.Observe(float64(size))
}

// RecordMailBlocked 记录被名单拦截的邮件
func (m *Metrics) RecordMailBlocked() {
	if m == nil {
		return
	}
	m.MailsBlocked.Inc()
}

// RecordMailRejected 记录被拒收的邮件
func (m *Metrics) RecordMailRejected() {
	if m == nil {
		return
	}
	m.MailsRejected.Inc()
}

// RecordForward 记录一次转发结果: success, failure, skipped
func (m *Metrics) RecordForward(outcome string) {
	if m == nil {
		return
	}
	m.ForwardResults.WithLabelValues(outcome).Inc()
}

// RecordNotify 记录一次通知结果: success, failure, skipped
func (m *Metrics) RecordNotify(outcome string) {
	if m == nil {
		return
	}
	m.NotifyResults.WithLabelValues(outcome).Inc()
}

// RecordMailProcessingTime 记录单封邮件处理耗时
func (m *Metrics) RecordMailProcessingTime(duration time.Duration) {
	if m == nil {
		return
	}
	m.MailProcessingTime.Observe(duration.Seconds())
}

// RecordParseOverflow 记录超限邮件
func (m *Metrics) RecordParseOverflow(policy string) {
	if m == nil {
		return
	}
	m.ParseOverflowsTotal.WithLabelValues(policy).Inc()
}

// RecordCommand 记录机器人命令
func (m *Metrics) RecordCommand(command string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command).Inc()
}

// RecordCallback 记录按钮回调
func (m *Metrics) RecordCallback(action, outcome string) {
	if m == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(action, outcome).Inc()
}

// RecordSummary 记录摘要请求
func (m *Metrics) RecordSummary(outcome string) {
	if m == nil {
		return
	}
	m.SummaryResults.WithLabelValues(outcome).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	if m == nil {
		return
	}
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateMemoryUsage 用当前堆内存更新内存指标
func (m *Metrics) UpdateMemoryUsage() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if m != nil {
		m.MemoryUsage.Set(float64(ms.Alloc))
	}
	return ms.Alloc
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
