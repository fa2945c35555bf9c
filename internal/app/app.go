// Package app wires the application together: configuration, shared
// infrastructure, modules, and the HTTP router.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tianyehedashu/next-pcb-sub005/internal/module/artifact"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/notification"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/order"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/payment"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/payment/provider"
	"github.com/tianyehedashu/next-pcb-sub005/internal/module/pricing"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/cache"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/config"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/database"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/logger"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/metrics"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/middleware"
)

// App is the assembled application.
type App struct {
	config  *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	redis   redis.UniversalClient
	metrics *metrics.Metrics
	router  *gin.Engine

	notifications *notification.Service
	stopNotify    context.CancelFunc
}

// New builds the application from configuration.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrate(
		&order.CustomerOrder{},
		&order.AdminOrder{},
		&notification.Notification{},
		&payment.WebhookEvent{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	app := &App{
		config:  cfg,
		logger:  log,
		db:      db,
		redis:   redisClient,
		metrics: metrics.New("faborders"),
	}

	app.router = app.buildRouter()
	return app, nil
}

func (a *App) buildRouter() *gin.Engine {
	cfg := a.config

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Repositories
	orderRepo := order.NewRepository(a.db)
	notifRepo := notification.NewRepository(a.db)
	eventRepo := payment.NewRepository(a.db)

	// Notification delivery
	var sender notification.Sender
	if cfg.SMTP.Host != "" {
		sender = notification.NewSMTPSender(&notification.SMTPConfig{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			User:        cfg.SMTP.User,
			Password:    cfg.SMTP.Password,
			FromAddress: cfg.SMTP.FromAddress,
			FromName:    cfg.SMTP.FromName,
		}, a.logger)
	} else {
		a.logger.Warn("smtp not configured, notifications are logged only")
		sender = notification.NewNoOpSender(a.logger)
	}
	a.notifications = notification.NewService(notifRepo, sender, a.metrics, a.logger)

	notifyCtx, cancel := context.WithCancel(context.Background())
	a.stopNotify = cancel
	go a.notifications.Run(notifyCtx)

	// Payment gateway behind a circuit breaker
	gateway := provider.NewBreakerGateway(provider.NewStripeGateway(&provider.StripeConfig{
		APIKey:      cfg.Stripe.APIKey,
		CallTimeout: cfg.Stripe.CallTimeout,
	}))
	idemKeys := payment.NewIdempotencyKeys(a.redis)

	// Services
	pricingEngine := pricing.NewHTTPEngine(cfg.Pricing.BaseURL, cfg.Pricing.Timeout, a.logger)
	paymentService := payment.NewService(orderRepo, gateway, idemKeys, a.metrics, a.logger)
	refundService := payment.NewRefundService(orderRepo, gateway, idemKeys, a.notifications, cfg.SMTP.AdminInbox, a.metrics, a.logger)
	orderService := order.NewService(orderRepo, pricingEngine, a.notifications, paymentService, a.logger, cfg.Order.CancelUndoWindow)

	// Handlers
	orderHandler := order.NewHandler(orderService)
	paymentHandler := payment.NewHandler(paymentService, refundService)
	webhookHandler := payment.NewWebhookHandler(paymentService, eventRepo, orderRepo, a.notifications, a.metrics, a.logger)

	verifier := middleware.NewJWTVerifier(cfg.Auth.JWTSecret)

	r := gin.New()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	// Gateway webhooks authenticate by signature or token, never by session.
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", webhookHandler.Handle(payment.NewStripeVerifier(cfg.Stripe.WebhookSecret)))
		if cfg.Stripe.TestWebhookToken != "" {
			a.logger.Warn("test webhook endpoint enabled")
			webhooks.POST("/test", webhookHandler.Handle(payment.NewTestVerifier(cfg.Stripe.TestWebhookToken)))
		}
	}

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(a.redis, middleware.DefaultRateLimitConfig()))
	api.Use(middleware.OptionalAuth(verifier))

	orderHandler.RegisterRoutes(api)
	paymentHandler.RegisterRoutes(api)

	// Design file storage is optional; without it orders reference
	// externally supplied artifact keys.
	if cfg.Storage.Endpoint != "" {
		store, err := artifact.NewStore(&artifact.Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Bucket:          cfg.Storage.Bucket,
			PresignTTL:      cfg.Storage.PresignTTL,
		})
		if err != nil {
			a.logger.Warn("artifact storage unavailable", zap.Error(err))
		} else {
			artifact.NewHandler(store).RegisterRoutes(api)
		}
	}

	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	orderHandler.RegisterAdminRoutes(admin)
	paymentHandler.RegisterAdminRoutes(admin)
	admin.GET("/webhooks/events", webhookHandler.ListEvents)

	return r
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop shuts down background components.
func (a *App) Stop() {
	if a.stopNotify != nil {
		a.stopNotify()
	}
	if a.redis != nil {
		if err := cache.Close(a.redis); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
