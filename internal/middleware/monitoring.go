package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TBXark/mail2telegram/internal/monitoring"
)

// MonitoringMiddleware 监控中间件
type MonitoringMiddleware struct {
	metrics *monitoring.Metrics
	started time.Time
}

// NewMonitoringMiddleware 创建监控中间件
func NewMonitoringMiddleware(metrics *monitoring.Metrics) *MonitoringMiddleware {
	return &MonitoringMiddleware{
		metrics: metrics,
		started: time.Now(),
	}
}

// HTTPMetrics HTTP 指标中间件
//
// 端点标签使用路由模板，避免令牌和邮件 ID 造成标签爆炸。
func (mm *MonitoringMiddleware) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}
		mm.metrics.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(status),
			time.Since(start),
			int64(size),
		)

		if status >= http.StatusInternalServerError {
			mm.metrics.RecordError("http_error", "http")
		}
		if status == http.StatusTooManyRequests || status == http.StatusRequestEntityTooLarge {
			mm.metrics.RecordRateLimitBlock("http")
		}
	}
}

// SystemMetrics 在抓取指标前刷新运行时间和内存
func (mm *MonitoringMiddleware) SystemMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		mm.metrics.UpdateSystemUptime(time.Since(mm.started))
		mm.metrics.UpdateMemoryUsage()
		c.Next()
	}
}
