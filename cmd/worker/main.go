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

	"github.com/dunamismax/rasterkit/internal/config"
	"github.com/dunamismax/rasterkit/internal/storage"
	"github.com/dunamismax/rasterkit/internal/store"
	"github.com/dunamismax/rasterkit/internal/telemetry"
	"github.com/dunamismax/rasterkit/internal/webhook"
	"github.com/dunamismax/rasterkit/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(os.Getenv("RASTERKIT_CONFIG_FILE"))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.NewTraceConfig("rasterkit-worker", cfg.Telemetry), logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracer shutdown error: %v", err)
		}
	}()

	storageClient, err := storage.NewClient(storage.ConfigFrom(cfg.Storage))
	if err != nil {
		logger.Fatalf("storage client: %v", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Fatalf("ensure bucket: %v", err)
	}

	jobStore, closeStore := openJobStore(ctx, logger, cfg.Database)
	defer closeStore()

	srv, err := worker.NewServer(logger, cfg, storageClient, webhook.NewClient(cfg.Webhook), jobStore, nil)
	if err != nil {
		logger.Fatalf("initialize worker: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d filter_workers=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Filter.Workers,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()
	if err := srv.Run(); err != nil {
		logger.Printf("worker stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

func openJobStore(ctx context.Context, logger *log.Logger, cfg config.DatabaseConfig) (store.JobStore, func()) {
	if cfg.DSN == "" {
		logger.Printf("database dsn not set, using in-memory job store")
		return store.NewMemoryJobStore(), func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		logger.Fatalf("open job store: %v", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}
}
