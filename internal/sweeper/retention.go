package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/store"
)

// RetentionCleaner deletes executions (and their tasks/dead-letters) that
// reached a terminal status more than retentionDays ago, per spec's
// execution.retentionDays config. None of the FKs cascade, so deletion
// walks dead_letters -> tasks -> executions in that order within one tx.
type RetentionCleaner struct {
	db            *store.DB
	retentionDays int
	interval      time.Duration
}

func NewRetentionCleaner(db *store.DB, retentionDays int, interval time.Duration) *RetentionCleaner {
	return &RetentionCleaner{db: db, retentionDays: retentionDays, interval: interval}
}

func (c *RetentionCleaner) Interval() time.Duration { return c.interval }

// Sweep returns the number of executions deleted.
func (c *RetentionCleaner) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -c.retentionDays)

	tx, err := c.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin retention sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const expiredIDs = `
		SELECT id FROM executions
		WHERE status IN ('completed', 'failed', 'cancelled', 'timed_out') AND completed_at < $1
	`

	if _, err := tx.Exec(ctx, `
		DELETE FROM dead_letters WHERE execution_id IN (`+expiredIDs+`)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("delete expired dead letters: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM tasks WHERE execution_id IN (`+expiredIDs+`)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("delete expired tasks: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM executions WHERE status IN ('completed', 'failed', 'cancelled', 'timed_out') AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired executions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit retention sweep tx: %w", err)
	}

	n := int(tag.RowsAffected())
	if n > 0 {
		logger.Get().Info().Int("count", n).Int("retention_days", c.retentionDays).Msg("purged expired executions")
	}
	return n, nil
}
