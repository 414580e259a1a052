package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kemiade/salon-stock-engine/internal/api"
	"github.com/kemiade/salon-stock-engine/internal/config"
	"github.com/kemiade/salon-stock-engine/internal/db"
	"github.com/kemiade/salon-stock-engine/internal/idempotency"
	"github.com/kemiade/salon-stock-engine/internal/observability"
	"github.com/kemiade/salon-stock-engine/internal/repository"
	"github.com/kemiade/salon-stock-engine/internal/service"
	"github.com/kemiade/salon-stock-engine/internal/stream"
	"github.com/kemiade/salon-stock-engine/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the change stream, the background workers and the ops API,
// blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		// Redis is a cache tier, not a dependency the engine can't live
		// without. Degrade to marker reads against the store.
		logger.Warn("redis unavailable, duplicate checks fall back to the store", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	store := repository.NewStore(pool)
	queryStore := service.NewQueryStore(store)
	queries := store.Queries()

	auditSvc := service.NewAuditService(queryStore)
	processor := service.NewProcessor(queryStore, auditSvc)
	snapshotSvc := service.NewSnapshotService(queryStore, auditSvc)
	sweepSvc := service.NewSweepService(queryStore, processor, cfg.SweepGracePeriod, cfg.SweepBatchSize)

	var redisCmd redis.Cmdable
	if redisClient != nil {
		redisCmd = redisClient
	}
	markers := idempotency.NewStore(redisCmd, queries, cfg.MarkerCacheTTL)

	source := stream.NewPGSource(pool, cfg.ListenChannel)
	manager := stream.NewManager(source, queries, processor, markers)
	manager.Start(ctx)
	for _, branch := range cfg.Branches {
		if err := manager.Listen(branch); err != nil {
			return fmt.Errorf("subscribe branch %s: %w", branch, err)
		}
	}
	logger.Info("change stream started",
		zap.String("channel", cfg.ListenChannel),
		zap.Strings("branches", cfg.Branches),
	)

	snapshotWorker := worker.NewSnapshotWorker(snapshotSvc, cfg.Branches, cfg.SnapshotActor).
		WithInterval(cfg.SnapshotInterval)
	sweepWorker := worker.NewSweepWorker(sweepSvc).
		WithPollInterval(cfg.SweepInterval)

	stopSnapshot := snapshotWorker.Run(ctx)
	stopSweep := sweepWorker.Run(ctx)
	logger.Info("workers started",
		zap.Duration("snapshot_interval", cfg.SnapshotInterval),
		zap.Duration("sweep_interval", cfg.SweepInterval),
	)

	router := api.NewRouter(
		logger,
		pool,
		redisCmd,
		queries,
		manager,
		snapshotSvc,
		processor,
		cfg.PublicRateLimitRPS,
		cfg.SnapshotActor,
	)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers and listeners")
	stopSweep()
	stopSnapshot()
	manager.StopAll()
	cancel()
	manager.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
