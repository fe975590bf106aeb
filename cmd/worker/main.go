// Command worker runs the asynchronous side of the platform: the queue
// consumer that evaluates applications, plus the cron jobs draining the
// outbox, retrying dead-letter jobs, and pruning old webhook events.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/fairyhunter13/global-credit-core/internal/adapter/pii"
	"github.com/fairyhunter13/global-credit-core/internal/adapter/provider"
	asynqadp "github.com/fairyhunter13/global-credit-core/internal/adapter/queue/asynq"
	redisadp "github.com/fairyhunter13/global-credit-core/internal/adapter/redis"
	"github.com/fairyhunter13/global-credit-core/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/global-credit-core/internal/config"
	"github.com/fairyhunter13/global-credit-core/internal/observability"
	"github.com/fairyhunter13/global-credit-core/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpt)
	defer func() { _ = rdb.Close() }()

	cipher, err := pii.NewCipher(cfg.EncryptionKey)
	if err != nil {
		slog.Error("cipher init failed", slog.Any("error", err))
		os.Exit(1)
	}

	appRepo := postgres.NewApplicationRepo(pool, cipher)
	pendingRepo := postgres.NewPendingJobRepo(pool)
	failedRepo := postgres.NewFailedJobRepo(pool)
	eventRepo := postgres.NewWebhookEventRepo(pool)

	bus := redisadp.NewBus(rdb)
	locker := redisadp.NewLocker(rdb)

	breakers := provider.NewBreakers(cfg.ProviderTimeout(), cfg.CBRecoveryTimeout, cfg.CBFailureThreshold)
	processSvc := usecase.NewProcessService(appRepo, locker, bus, breakers, cfg.ProcessLockTTL)

	rc := cfg.GetRetryConfig()
	worker, err := asynqadp.NewWorker(cfg.RedisURL, processSvc, pendingRepo, failedRepo,
		cfg.WorkerConcurrency, rc.MaxRetries, asynqadp.RetryPolicy{
			InitialDelay: rc.InitialDelay,
			MaxDelay:     rc.MaxDelay,
			Multiplier:   rc.Multiplier,
			Jitter:       rc.Jitter,
		})
	if err != nil {
		slog.Error("worker init failed", slog.Any("error", err))
		os.Exit(1)
	}

	// The cron jobs enqueue through the same client the API uses, so the
	// TaskID dedup applies to outbox drains and dead-letter retries alike.
	queue, err := asynqadp.New(cfg.RedisURL, rc.MaxRetries, cfg.JobTimeout)
	if err != nil {
		slog.Error("queue client init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = queue.Close() }()

	outboxSvc := usecase.NewOutboxService(pendingRepo, queue, cfg.OutboxBatchSize)
	retrySvc := usecase.NewRetryService(failedRepo, queue, cfg.RetryBatchSize)
	cleanupSvc := usecase.NewCleanupService(eventRepo, time.Duration(cfg.WebhookRetentionDays)*24*time.Hour)

	crond := cron.New()
	mustCron(crond, cfg.OutboxCron, "outbox drain", func(ctx context.Context) error {
		_, err := outboxSvc.Drain(ctx)
		return err
	})
	mustCron(crond, cfg.RetryCron, "dead-letter retry", func(ctx context.Context) error {
		_, err := retrySvc.Run(ctx)
		return err
	})
	mustCron(crond, cfg.CleanupCron, "webhook event cleanup", func(ctx context.Context) error {
		_, err := cleanupSvc.Run(ctx)
		return err
	})

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
		Handler:           metricsMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("worker metrics listening", slog.Int("port", cfg.WorkerMetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	if err := worker.Start(ctx); err != nil {
		slog.Error("worker start failed", slog.Any("error", err))
		os.Exit(1)
	}
	crond.Start()
	slog.Info("worker started",
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.String("outbox_cron", cfg.OutboxCron),
		slog.String("retry_cron", cfg.RetryCron),
		slog.String("cleanup_cron", cfg.CleanupCron))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutdown signal received", slog.String("signal", sig.String()))

	cronCtx := crond.Stop()
	worker.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	// Let a mid-flight cron pass finish before the process exits.
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
	}
}

// mustCron registers a schedule or exits: a bad cron expression is a
// config error, not something to discover at 3am.
func mustCron(c *cron.Cron, spec, name string, run func(ctx context.Context) error) {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := run(ctx); err != nil {
			slog.Error("cron job failed", slog.String("job", name), slog.Any("error", err))
		}
	})
	if err != nil {
		slog.Error("invalid cron expression",
			slog.String("job", name), slog.String("spec", spec), slog.Any("error", err))
		os.Exit(1)
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}
