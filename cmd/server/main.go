package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"konsul_app_echo/internal/config"
	"konsul_app_echo/internal/handlers"
	authMiddleware "konsul_app_echo/internal/middleware"
	"konsul_app_echo/internal/logger"
	"konsul_app_echo/internal/repository"
	"konsul_app_echo/internal/services"
	"konsul_app_echo/internal/tasks"
)

const lockTTL = 30 * time.Second

func main() {
	cfg := config.Load()

	sugar, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer sugar.Sync()

	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("invalid_configuration", "error", err)
	}
	if cfg.DatabaseURL == "" {
		sugar.Fatalw("invalid_configuration", "error", "DATABASE_URL not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	db, err := services.InitDB(cfg.DatabaseURL, sugar)
	if err != nil {
		sugar.Fatalw("database_connect_failed", "error", err)
	}
	defer services.CloseDB(db)

	if err := services.AutoMigrate(db, sugar); err != nil {
		sugar.Fatalw("database_migration_failed", "error", err)
	}

	store := repository.NewStore(db)

	// Redis backs locks and webhook dedup when configured, otherwise the
	// database ledger and in-process locks are used
	var (
		redisStore *services.RedisStore
		locker     services.Locker       = services.NewLocalLocker()
		dedup      services.EventDeduper = store
	)
	if cfg.RedisURL != "" {
		redisStore, err = services.NewRedisStore(cfg.RedisURL, sugar)
		if err != nil {
			sugar.Fatalw("redis_connect_failed", "error", err)
		}
		defer redisStore.Close()
		locker = services.NewRedisLocker(redisStore, lockTTL, sugar)
		dedup = services.NewRedisEventDeduper(redisStore, cfg.WebhookDedupWindow)
	} else {
		sugar.Warnw("redis_not_configured", "locker", "local", "dedup", "database")
	}

	// Initialize Firebase
	var verifier authMiddleware.TokenVerifier
	authClient, err := services.InitFirebase(ctx, cfg.FirebaseCredentialsPath)
	if err != nil {
		sugar.Warnw("firebase_init_failed", "error", err)
	} else {
		verifier = authClient
	}

	gateway := services.NewMidtransService(cfg, sugar)
	scheduler := tasks.NewScheduler(db, sugar)

	orderService := services.NewOrderService(store, gateway, locker, cfg, sugar)
	stateMachine := services.NewPaymentStateMachine(store, store, store, scheduler, cfg.PaymentSigningSecret, gateway.Name(), sugar)
	refundService := services.NewRefundService(store, store, gateway, locker, cfg, sugar)
	analyticsService := services.NewAnalyticsService(store, cfg.CountRefundedAsSuccessful, sugar)
	dispatcher := services.NewWebhookDispatcher(cfg.WebhookSigningSecret, dedup, stateMachine, refundService, store, gateway.Name(), sugar,
		services.WithMidtransServerKey(cfg.MidtransServerKey))

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = handlers.SonicSerializer{}
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler(sugar)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(sugar))

	handlers.RegisterRoutes(e, handlers.Handlers{
		Payments: handlers.NewPaymentHandler(orderService, stateMachine, refundService, analyticsService),
		Webhooks: handlers.NewWebhookHandler(dispatcher),
		Admin:    handlers.NewAdminHandler(),
		Health:   handlers.NewHealthHandler(services.NewHealthChecker(db, redisStore)),
	}, authMiddleware.RequireAuth(verifier))

	go func() {
		sugar.Infow("server_starting", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server_failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("server_shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("server_shutdown_failed", "error", err)
	}
}

func requestLogger(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			log.Infow("http_request", fields...)
			return nil
		},
	})
}
