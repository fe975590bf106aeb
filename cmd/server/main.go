// Command server starts the credit-application HTTP API: intake and query
// endpoints, the bank-confirmation webhook, and the WebSocket fan-out.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/global-credit-core/internal/adapter/httpserver"
	"github.com/fairyhunter13/global-credit-core/internal/adapter/pii"
	asynqadp "github.com/fairyhunter13/global-credit-core/internal/adapter/queue/asynq"
	redisadp "github.com/fairyhunter13/global-credit-core/internal/adapter/redis"
	"github.com/fairyhunter13/global-credit-core/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/global-credit-core/internal/adapter/ws"
	"github.com/fairyhunter13/global-credit-core/internal/app"
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

	// Repositories
	appRepo := postgres.NewApplicationRepo(pool, cipher)
	pendingRepo := postgres.NewPendingJobRepo(pool)
	eventRepo := postgres.NewWebhookEventRepo(pool)

	// Redis collaborators: status bus and stats cache
	bus := redisadp.NewBus(rdb)
	cache := redisadp.NewCache(rdb)

	// Queue client for the realtime enqueue after create
	queue, err := asynqadp.New(cfg.RedisURL, cfg.RetryMaxRetries, cfg.JobTimeout)
	if err != nil {
		slog.Error("queue client init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = queue.Close() }()

	// Usecases
	appSvc := usecase.NewApplicationService(appRepo, pendingRepo, queue, cache, cfg.StatsCacheTTL)
	webhookSvc := usecase.NewWebhookService(appRepo, eventRepo, bus)

	// HTTP server
	srv := httpserver.NewServer(cfg, appSvc, webhookSvc)
	srv.DBReady, srv.RedisReady = app.BuildReadinessChecks(pool, rdb)

	// WebSocket hub plus the bus bridge feeding it
	hub := ws.NewHub()
	bridgeCtx, stopBridge := context.WithCancel(ctx)
	defer stopBridge()
	bridge := ws.NewBridge(bus, hub)
	bridgeErrCh := make(chan error, 1)
	go func() { bridgeErrCh <- bridge.Run(bridgeCtx) }()

	handler := app.BuildRouter(cfg, srv, hub)
	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	case err := <-bridgeErrCh:
		// The bridge only returns when its reconnect budget is spent;
		// restarting beats serving clients from dead sockets.
		slog.Error("notification bridge stopped", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	stopBridge()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
