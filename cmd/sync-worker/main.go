package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/fisioflow/calsync/cmd/mainconfig"
	appconfig "github.com/fisioflow/calsync/internal/config"
	"github.com/fisioflow/calsync/internal/credentials"
	"github.com/fisioflow/calsync/internal/gcal"
	"github.com/fisioflow/calsync/internal/observability/metrics"
	appsync "github.com/fisioflow/calsync/internal/sync"
	"github.com/fisioflow/calsync/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("sync worker requires SQS; the in-memory queue only works inside the API process")
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" || cfg.SyncQueueURL == "" {
		logger.Error("sync worker requires DATABASE_URL and SYNC_QUEUE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := appsync.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SyncQueueURL)
	syncMetrics := metrics.NewSyncMetrics(nil)

	manager := credentials.NewManager(credentials.ManagerConfig{
		Store: credentials.NewPGStore(pool),
		OAuth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURI,
			Scopes:       cfg.GoogleScopes,
			Endpoint:     google.Endpoint,
		},
		ExpirySkew: cfg.TokenExpirySkew,
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

	// Worker replicas share the Redis lock when configured; without it each
	// replica only serializes appointments it processes itself.
	var locks appsync.Locker = appsync.NewKeyedLock()
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		locks = appsync.NewRedisLock(redis.NewClient(opts), cfg.LockTTL, logger)
	}

	orchestrator := appsync.NewOrchestrator(appsync.OrchestratorConfig{
		Provider:   provider,
		Tokens:     manager,
		Records:    appsync.NewPGRecordStore(pool),
		Locks:      locks,
		Logger:     logger,
		Metrics:    syncMetrics,
		CalendarID: cfg.CalendarID,
		TimeZone:   cfg.CalendarTimeZone,
		OpTimeout:  cfg.SyncOpTimeout,
	})

	worker := appsync.NewWorker(orchestrator, queue, logger,
		appsync.WithWorkerCount(cfg.WorkerCount),
		appsync.WithReceiveBatchSize(cfg.WorkerReceiveBatch),
		appsync.WithReceiveWaitSeconds(int(cfg.WorkerReceiveWait.Seconds())),
	)
	worker.Start(ctx)
	logger.Info("sync worker started",
		"queue_url", cfg.SyncQueueURL,
		"workers", cfg.WorkerCount,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("sync worker shutting down")
	cancel()

	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("drain timeout exceeded; exiting with in-flight work")
	}
	logger.Info("sync worker stopped")
}
