// Package httptransport 提供邮件正文、机器人 webhook 和地址名单管理的 HTTP 接口。
package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "github.com/TBXark/mail2telegram/internal/auth/jwt"
	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
	"github.com/TBXark/mail2telegram/internal/health"
	"github.com/TBXark/mail2telegram/internal/middleware"
	"github.com/TBXark/mail2telegram/internal/monitoring"
	"github.com/TBXark/mail2telegram/internal/security"
	"github.com/TBXark/mail2telegram/internal/telegram"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Cache         EmailCache
	Addresses     AddressManager
	Updates       telegram.UpdateHandler
	Bot           BotRegistrar
	Commands      []domain.BotCommand
	JWTManager    *jwtpkg.Manager       // 可选，为 nil 时只接受 tma 认证
	HealthChecker *health.HealthChecker // 可选
	Metrics       *monitoring.Metrics   // 可选
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics)
	router.Use(middleware.RecoveryHandler(log, deps.Metrics))
	router.Use(middleware.RequestLogger(log))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}
	// 如果允许所有来源，则需清空凭证支持
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		domain:    cfg.Domain,
		botToken:  cfg.Telegram.Token,
		cache:     deps.Cache,
		addresses: deps.Addresses,
		updates:   deps.Updates,
		bot:       deps.Bot,
		commands:  deps.Commands,
		filter:    security.NewHTMLFilter(),
		log:       log,
	}
	adminAuth := middleware.NewAdminAuth(cfg.Telegram.Token, cfg.Telegram.IsAdmin, deps.JWTManager, log)

	router.GET("/", handler.redirectHome)

	// 健康检查和指标
	router.GET("/health", func(c *gin.Context) {
		if deps.HealthChecker == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		results, healthy := deps.HealthChecker.CheckHealth()
		status := http.StatusOK
		state := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	})
	if deps.HealthChecker != nil {
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", monitor.SystemMetrics(), gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// 机器人
	router.GET("/init", handler.initBot)
	router.POST("/telegram/:token/webhook", middleware.BodySizeLimit(middleware.WebhookBodyLimit), handler.telegramWebhook)

	// 邮件正文
	router.GET("/email/:id", handler.getEmail)

	// 地址名单管理
	api := router.Group("/api/address", adminAuth.RequireAdmin())
	{
		api.POST("/add", middleware.BodySizeLimit(middleware.DefaultBodyLimit), handler.addAddress)
		api.POST("/remove", middleware.BodySizeLimit(middleware.DefaultBodyLimit), handler.removeAddress)
		api.GET("/list", handler.listAddresses)
	}

	router.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, MsgNotFound)
	})

	return router
}
