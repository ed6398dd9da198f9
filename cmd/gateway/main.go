package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DanielPopoola/travelpay/internal/adapters/handler"
	"github.com/DanielPopoola/travelpay/internal/adapters/lock"
	"github.com/DanielPopoola/travelpay/internal/adapters/notify"
	"github.com/DanielPopoola/travelpay/internal/adapters/platform"
	"github.com/DanielPopoola/travelpay/internal/adapters/postgres"
	"github.com/DanielPopoola/travelpay/internal/config"
	"github.com/DanielPopoola/travelpay/internal/core/ports"
	"github.com/DanielPopoola/travelpay/internal/core/service"
	"github.com/DanielPopoola/travelpay/internal/core/signature"
	"github.com/DanielPopoola/travelpay/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting payment service",
		"env", cfg.Primary.Env,
		"port", cfg.Server.Port,
		"log_level", cfg.Logger.Level,
		"lock_backend", cfg.Lock.Backend,
	)

	ctx := context.Background()
	db, err := postgres.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	locks, closeLocks, err := newLockCoordinator(ctx, cfg)
	if err != nil {
		logger.Error("failed to set up lock coordinator", "error", err)
		os.Exit(1)
	}
	defer closeLocks()

	notifier, closeNotifier, err := notify.Build(cfg.Notify, logger)
	if err != nil {
		logger.Error("failed to set up notification channels", "error", err)
		os.Exit(1)
	}
	defer closeNotifier()

	paymentRepo := postgres.NewPaymentRepository(db)
	securityLog := postgres.NewSecurityLog(db, logger)

	platformClient := platform.NewHTTPClient(cfg.Platform)
	retryPlatformClient := platform.NewRetryClient(platformClient, platform.NewRetryPolicy(cfg.Retry), logger)

	lifecycle := service.NewLifecycleService(
		paymentRepo,
		retryPlatformClient,
		locks,
		securityLog,
		notifier,
		logger,
		cfg.Platform.Currency,
		service.WithNotifyTimeout(cfg.Notify.Timeout),
	)
	verifier := signature.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.FreshnessWindow, time.Now)
	webhooks := service.NewWebhookReconciler(lifecycle, verifier, logger)

	h := handler.NewPaymentHandler(lifecycle, webhooks, logger)
	router := handler.NewRouter(h, handler.RouterConfig{
		Auth:           handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.Server.Origins(),
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if cfg.Worker.Enabled {
		reconciler := worker.NewReconciler(
			paymentRepo,
			lifecycle,
			cfg.Worker.Interval,
			cfg.Worker.BatchSize,
			cfg.Worker.StaleAfter,
			logger,
		)
		go reconciler.Start(workerCtx)
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	lifecycle.WaitForNotifications()

	logger.Info("server exited")
}

func newLockCoordinator(ctx context.Context, cfg *config.Config) (ports.LockCoordinator, func(), error) {
	if cfg.Lock.Backend != "redis" {
		return lock.NewLocal(cfg.Lock.TTL), func() {}, nil
	}

	client, err := cfg.Redis.NewRedisClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedis(client, cfg.Lock.KeyPrefix, cfg.Lock.TTL), func() { _ = client.Close() }, nil
}
