// Package store owns the Postgres connection pool, schema migrations, and
// the JSON codec shared by every repository (spec §3, §6).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowforge/orchestrator/internal/config"
)

// DB wraps a pgx connection pool. All repositories (queue, execution,
// workflow, deadletter, worker registry) take a *DB rather than a bare
// *pgxpool.Pool so they share one connect/migrate/close lifecycle.
type DB struct {
	Pool *pgxpool.Pool
}

// Connect opens a pooled connection to Postgres and verifies it with a ping
// before returning, mirroring the fail-fast posture of the teacher's Redis
// client construction.
func Connect(ctx context.Context, cfg *config.PostgresConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close releases all pooled connections.
func (db *DB) Close() {
	db.Pool.Close()
}

// Healthy reports whether the pool can still reach the server.
func (db *DB) Healthy(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
