package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/orchestrator/internal/api"
	"github.com/flowforge/orchestrator/internal/config"
	"github.com/flowforge/orchestrator/internal/deadletter"
	"github.com/flowforge/orchestrator/internal/engine"
	"github.com/flowforge/orchestrator/internal/events"
	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/notifier"
	"github.com/flowforge/orchestrator/internal/queue"
	"github.com/flowforge/orchestrator/internal/samples"
	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/sweeper"
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
	log.Info().Msg("Starting engine...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Migrate(cfg.Postgres.DSN); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	db, err := store.Connect(ctx, &cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to postgres")
	}
	defer db.Close()

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

	// The event publisher is optional: the engine degrades to "no live
	// WebSocket fan-out across processes" when Redis isn't configured,
	// the same posture RedisConfig documents for the rest of the stack.
	var publisher events.Publisher
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		redisPub := events.NewRedisPubSub(rdb)
		defer func() {
			if err := redisPub.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close event publisher")
			}
		}()
		publisher = redisPub
		eng.SetNotifier(notifier.New(rdb, cfg.Queue.NotifyChannel))
	}
	eng.SetPublisher(publisher)

	server := api.NewServer(cfg, db, eng, dlq, publisher)
	server.Start(ctx)

	// The timeout/stale-worker/retention sweeps are leader-gated (spec
	// C11): with no elector injected, AlwaysLeader runs them unconditionally,
	// correct for a single cmd/engine instance and a no-op placeholder for
	// a multi-instance deployment to override.
	sw := sweeper.New(nil,
		sweeper.NewTimeoutChecker(db, publisher, cfg.Execution.TimeoutCheckInterval),
		sweeper.NewStaleWorkerSweeper(db, cfg.Worker.StaleThreshold, cfg.Worker.HeartbeatInterval*2),
		sweeper.NewRetentionCleaner(db, cfg.Execution.RetentionDays, 24*time.Hour),
	)
	sw.Start(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down engine...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.Stop()
	sw.Stop()
	cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Engine stopped")
}
