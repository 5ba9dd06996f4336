package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "github.com/TBXark/mail2telegram/internal/auth/jwt"
	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
	"github.com/TBXark/mail2telegram/internal/forward"
	"github.com/TBXark/mail2telegram/internal/health"
	"github.com/TBXark/mail2telegram/internal/logger"
	"github.com/TBXark/mail2telegram/internal/mail"
	"github.com/TBXark/mail2telegram/internal/monitoring"
	"github.com/TBXark/mail2telegram/internal/policy"
	"github.com/TBXark/mail2telegram/internal/render"
	"github.com/TBXark/mail2telegram/internal/service"
	"github.com/TBXark/mail2telegram/internal/smtp"
	"github.com/TBXark/mail2telegram/internal/storage"
	"github.com/TBXark/mail2telegram/internal/storage/memory"
	"github.com/TBXark/mail2telegram/internal/storage/postgres"
	"github.com/TBXark/mail2telegram/internal/storage/redis"
	sqlstore "github.com/TBXark/mail2telegram/internal/storage/sql"
	"github.com/TBXark/mail2telegram/internal/summary"
	"github.com/TBXark/mail2telegram/internal/telegram"
	httptransport "github.com/TBXark/mail2telegram/internal/transport/http"
)

const (
	purgeInterval   = 10 * time.Minute
	alertInterval   = time.Minute
	memoryAlertMB   = 512.0
	shutdownTimeout = 10 * time.Second
)

// main 启动入站 SMTP 与 HTTP（webhook、正文查看、名单管理）服务
func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mail2telegram",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("storage", cfg.Storage.Type),
		zap.String("forward", cfg.Forward.Type),
	)

	// 初始化存储层
	kv, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()
	mailStore := storage.NewMailStore(kv, log)

	// 初始化监控系统
	metrics := monitoring.NewMetrics(nil)
	healthChecker := health.NewHealthChecker(mailStore, cfg.SMTP.BindAddr, log)

	notifier := telegram.NewNotifier(cfg.Telegram, log)

	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	if chatIDs := cfg.Telegram.ChatIDList(); len(chatIDs) > 0 {
		alertManager.AddReceiver(monitoring.NewBotAlertReceiver(notifier, chatIDs))
	}
	alertManager.AddRule(monitoring.HighMemoryUsageRule(memoryAlertMB, metrics))
	alertManager.AddRule(monitoring.StoreHealthRule(mailStore))

	// 初始化邮件流水线
	pol := policy.New(cfg.Mail, mailStore)

	var summarizer domain.Summarizer
	if s := summary.NewOpenAI(cfg.Summary, log); s != nil {
		summarizer = s
		log.Info("summary enabled", zap.String("model", cfg.Summary.Model))
	}
	renderer := render.NewRenderer(cfg, summarizer, pol, log)

	forwarder, err := initializeForwarder(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize forwarder", zap.Error(err))
	}

	parser := mail.NewParser(cfg.Mail)

	// 初始化服务层
	delivery := service.NewDeliveryService(cfg, pol, mailStore, parser, renderer, notifier, metrics, log)
	commands := service.NewCommandService(cfg, pol, mailStore, renderer, notifier, metrics, log)
	addresses := service.NewAddressService(mailStore, !cfg.Mail.DisableLoadFromDB, log)

	var jwtManager *jwtpkg.Manager
	if cfg.JWT.Secret != "" {
		jwtManager = jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)
		log.Info("bearer token authentication enabled",
			zap.String("issuer", cfg.JWT.Issuer),
			zap.Duration("expiry", cfg.JWT.Expiry),
		)
	}

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Cache:         mailStore,
		Addresses:     addresses,
		Updates:       commands,
		Bot:           notifier,
		Commands:      service.Commands(),
		JWTManager:    jwtManager,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 创建 SMTP 服务器
	smtpBackend := smtp.NewBackend(delivery, forwarder, smtp.Options{
		MaxRecipients: cfg.SMTP.MaxRecipients,
		Limiter:       smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.ConnRate),
		Metrics:       metrics,
		Logger:        log,
	})
	smtpServer := gosmtp.NewServer(smtpBackend)
	smtpServer.Addr = cfg.SMTP.BindAddr
	smtpServer.Domain = cfg.SMTP.Domain
	smtpServer.AllowInsecureAuth = cfg.Log.Development
	smtpServer.ReadTimeout = 10 * time.Second
	smtpServer.WriteTimeout = 10 * time.Second
	smtpServer.MaxMessageBytes = cfg.SMTP.MaxMessageBytes
	smtpServer.MaxRecipients = cfg.SMTP.MaxRecipients

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 不支持原生过期的后端需要定时清理
	if purger, ok := kv.(storage.Purger); ok {
		group.Go(func() error {
			ticker := time.NewTicker(purgeInterval)
			defer ticker.Stop()

			log.Info("starting expired key cleanup task", zap.Duration("interval", purgeInterval))

			for {
				select {
				case <-groupCtx.Done():
					log.Info("cleanup task stopped")
					return nil
				case <-ticker.C:
					count, err := purger.PurgeExpired(groupCtx)
					if err != nil {
						log.Error("failed to purge expired keys", zap.Error(err))
					} else if count > 0 {
						log.Info("expired keys purged", zap.Int64("count", count))
					}
				}
			}
		})
	}

	group.Go(func() error {
		log.Info("starting monitoring services")
		alertManager.StartMonitoring(groupCtx, alertInterval)
		return nil
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("SMTP server shutdown warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// loadConfig 加载并校验服务器配置，缺少令牌、会话ID或域名时拒绝启动
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// initializeStorage 按 storage.type 创建键值存储
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.KV, error) {
	switch cfg.Storage.Type {
	case "redis":
		client, err := redis.New(&cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		log.Info("using redis storage", zap.String("address", cfg.Redis.Address), zap.Int("db", cfg.Redis.DB))
		return client, nil

	case "sql":
		store, err := sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create sql store: %w", err)
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
		return store, nil

	case "pgx":
		client, err := postgres.New(&cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
		log.Info("using postgres storage (pgx)")
		return client, nil

	default:
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}
}

// initializeForwarder 按 forward.type 创建转发通道
func initializeForwarder(cfg *config.Config, log *zap.Logger) (forward.Forwarder, error) {
	switch cfg.Forward.Type {
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		f, err := forward.NewSESForwarder(ctx, cfg.Forward.SES, log)
		if err != nil {
			return nil, err
		}
		log.Info("forwarding via SES", zap.String("region", cfg.Forward.SES.Region))
		return f, nil

	case "none":
		log.Info("forwarding disabled")
		return forward.Noop{}, nil

	default:
		if cfg.Forward.SMTP.Addr == "" {
			log.Warn("forward.smtp.addr is empty, forwarding will fail permanently")
		}
		log.Info("forwarding via SMTP relay", zap.String("addr", cfg.Forward.SMTP.Addr))
		return forward.NewSMTPForwarder(cfg.Forward.SMTP, log), nil
	}
}
