package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/fisioflow/calsync/cmd/mainconfig"
	"github.com/fisioflow/calsync/internal/api/router"
	"github.com/fisioflow/calsync/internal/availability"
	appconfig "github.com/fisioflow/calsync/internal/config"
	"github.com/fisioflow/calsync/internal/credentials"
	"github.com/fisioflow/calsync/internal/gcal"
	"github.com/fisioflow/calsync/internal/http/handlers"
	"github.com/fisioflow/calsync/internal/observability/metrics"
	appsync "github.com/fisioflow/calsync/internal/sync"
	"github.com/fisioflow/calsync/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting calsync API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	syncMetrics := metrics.NewSyncMetrics(nil)

	credStore := credentials.NewPGStore(pool)
	manager := credentials.NewManager(credentials.ManagerConfig{
		Store: credStore,
		OAuth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURI,
			Scopes:       cfg.GoogleScopes,
			Endpoint:     google.Endpoint,
		},
		ExpirySkew: cfg.TokenExpirySkew,
		RevokeURL:  "https://oauth2.googleapis.com/revoke",
		Logger:     logger,
		Metrics:    syncMetrics,
	})

	provider := gcal.New(gcal.Config{
		BaseURL:    cfg.CalendarBaseURL,
		Timeout:    cfg.ProviderTimeout,
		MaxRetries: cfg.ProviderMaxRetries,
		Backoff:    cfg.ProviderBackoff,
		Logger:     logger,
	})

	engine := availability.New(availability.Config{
		Provider:          provider,
		Tokens:            manager,
		Logger:            logger,
		DefaultCalendarID: cfg.CalendarID,
		WorkStartHour:     cfg.WorkStartHour,
		WorkEndHour:       cfg.WorkEndHour,
		StepMinutes:       cfg.SlotStepMinutes,
		DurationMinutes:   cfg.SlotDurationMinutes,
		TimeZone:          cfg.CalendarTimeZone,
	})

	var locks appsync.Locker = appsync.NewKeyedLock()
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		locks = appsync.NewRedisLock(redis.NewClient(opts), cfg.LockTTL, logger)
		logger.Info("using redis appointment locks", "addr", cfg.RedisAddr)
	}

	recordStore := appsync.NewPGRecordStore(pool)
	orchestrator := appsync.NewOrchestrator(appsync.OrchestratorConfig{
		Provider:   provider,
		Tokens:     manager,
		Records:    recordStore,
		Locks:      locks,
		Logger:     logger,
		Metrics:    syncMetrics,
		CalendarID: cfg.CalendarID,
		TimeZone:   cfg.CalendarTimeZone,
		OpTimeout:  cfg.SyncOpTimeout,
	})
	coordinator := appsync.NewCoordinator(appsync.CoordinatorConfig{
		Syncer:        orchestrator,
		Concurrency:   cfg.SyncConcurrency,
		RatePerSecond: cfg.SyncRatePerSecond,
		RateBurst:     cfg.SyncRateBurst,
		Logger:        logger,
		Metrics:       syncMetrics,
	})

	// Queued sync: SQS in deployed environments, in-memory with an inline
	// worker for local development.
	var publisher *appsync.Publisher
	var worker *appsync.Worker
	switch {
	case cfg.UseMemoryQueue:
		queue := appsync.NewMemoryQueue(64)
		publisher = appsync.NewPublisher(queue, logger)
		worker = appsync.NewWorker(orchestrator, queue, logger,
			appsync.WithWorkerCount(cfg.WorkerCount),
		)
		worker.Start(ctx)
		logger.Warn("using in-memory sync queue; jobs are lost on restart")
	case cfg.SyncQueueURL != "":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		queue := appsync.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SyncQueueURL)
		publisher = appsync.NewPublisher(queue, logger)
	default:
		logger.Info("sync queue not configured; enqueue endpoint disabled")
	}

	// Pass an untyped nil when no queue is configured so the handler's nil
	// check holds; a typed nil pointer inside the interface would defeat it.
	syncHandler := handlers.NewSyncHandler(orchestrator, coordinator, nil, logger)
	if publisher != nil {
		syncHandler = handlers.NewSyncHandler(orchestrator, coordinator, publisher, logger)
	}

	routerCfg := &router.Config{
		Logger:              logger,
		ConnectHandler:      handlers.NewConnectHandler(manager, logger),
		AvailabilityHandler: handlers.NewAvailabilityHandler(engine, logger),
		SyncHandler:         syncHandler,
		WebhookHandler:      handlers.NewWebhookHandler(logger),
		MetricsHandler:      promhttp.Handler(),
		UserJWTSecret:       cfg.UserJWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	cancel()
	if worker != nil {
		worker.Wait()
	}
	logger.Info("server stopped")
}
