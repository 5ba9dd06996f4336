// Package health 提供存活和就绪检查。
package health

import (
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Checkable 可以报告自身健康状态的组件
type Checkable interface {
	Health() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  Checkable
	logger *zap.Logger
	now    func() time.Time
}

// NewHealthChecker 创建健康检查器
//
// smtpAddr 非空时就绪检查会拨测入站 SMTP 端口。
func NewHealthChecker(store Checkable, smtpAddr string, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
		now:    time.Now,
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	hc.health.AddReadinessCheck("store", healthcheck.Timeout(store.Health, 5*time.Second))
	if smtpAddr != "" {
		hc.health.AddReadinessCheck("smtp", healthcheck.TCPDialCheck(smtpAddr, time.Second))
	}

	return hc
}

// Handler 返回完整的健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 返回各组件状态，以及整体是否健康
func (hc *HealthChecker) CheckHealth() (map[string]string, bool) {
	results := make(map[string]string)
	healthy := true

	if err := hc.store.Health(); err != nil {
		results["store"] = fmt.Sprintf("ERROR: %v", err)
		healthy = false
		hc.logger.Warn("store health check failed", zap.Error(err))
	} else {
		results["store"] = "OK"
	}

	results["timestamp"] = hc.now().Format(time.RFC3339)
	return results, healthy
}
