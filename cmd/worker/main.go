package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/orchestrator/internal/config"
	"github.com/flowforge/orchestrator/internal/deadletter"
	"github.com/flowforge/orchestrator/internal/engine"
	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/notifier"
	"github.com/flowforge/orchestrator/internal/queue"
	"github.com/flowforge/orchestrator/internal/samples"
	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/worker"
	"github.com/flowforge/orchestrator/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("Starting worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(cfg.Postgres.DSN); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	db, err := store.Connect(ctx, &cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to postgres")
	}
	defer db.Close()

	// Register workflow definitions. Spec §9 rules out reflection-based
	// discovery, so every definition a worker can execute steps for must be
	// registered here explicitly, same as cmd/engine.
	registry := workflow.NewRegistry()
	defn := samples.OrderFulfillmentWorkflow()
	if err := registry.Register(defn); err != nil {
		log.Fatal().Err(err).Msg("Failed to register workflow")
	}
	if _, err := engine.PersistDefinition(ctx, db, defn); err != nil {
		log.Fatal().Err(err).Msg("Failed to persist workflow definition")
	}

	q := queue.NewPostgresQueue(db, cfg.Queue.LockTimeout)
	dlq := deadletter.NewStore(db)
	eng := engine.New(db, registry, q, dlq)

	pool := worker.NewPool(&cfg.Worker, db, q, eng, samples.OrderFulfillmentHandlers())

	// The tasks-available hint is optional: with no Redis address configured
	// the pool stays on fixed-interval polling alone.
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize, MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries: cfg.Redis.MaxRetries, DialTimeout: cfg.Redis.DialTimeout,
			ReadTimeout: cfg.Redis.ReadTimeout, WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer rdb.Close()
		pool.SetNotifier(notifier.New(rdb, cfg.Queue.NotifyChannel))
	}

	if err := pool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker pool")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.DrainTimeout)
	defer shutdownCancel()

	if err := pool.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Worker shutdown error")
	}

	log.Info().Msg("Worker stopped")
}
