package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/task"
)

// StaleWorkerSweeper finds workers whose last heartbeat is older than
// staleThreshold, marks them STOPPED, and reclaims whatever tasks they still
// held a lock on (spec: "Worker record... stale detection marks STOPPED and
// reclaims tasks locked by that worker"). Attempt is not incremented, same
// as queue.Reclaim's lock-timeout path: a dead worker is not a handler
// failure.
type StaleWorkerSweeper struct {
	db             *store.DB
	staleThreshold time.Duration
	interval       time.Duration
}

func NewStaleWorkerSweeper(db *store.DB, staleThreshold, interval time.Duration) *StaleWorkerSweeper {
	return &StaleWorkerSweeper{db: db, staleThreshold: staleThreshold, interval: interval}
}

func (s *StaleWorkerSweeper) Interval() time.Duration { return s.interval }

// Sweep returns the number of workers marked STOPPED.
func (s *StaleWorkerSweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-s.staleThreshold)

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin stale-worker sweep tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE workers SET status = 'STOPPED', stopped_at = $1, updated_at = $1
		WHERE status = 'ACTIVE' AND last_heartbeat < $2
		RETURNING worker_id
	`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale workers stopped: %w", err)
	}

	var workerIDs []string
	for rows.Next() {
		var workerID string
		if err := rows.Scan(&workerID); err != nil {
			rows.Close()
			return 0, err
		}
		workerIDs = append(workerIDs, workerID)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return 0, rowsErr
	}

	for _, workerID := range workerIDs {
		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET
				status = $1, locked_by = NULL, locked_at = NULL, lock_timeout_at = NULL,
				updated_at = $2, version = version + 1
			WHERE locked_by = $3 AND status IN ($4, $5)
		`, string(task.StatusPending), now, workerID, string(task.StatusLocked), string(task.StatusRunning)); err != nil {
			return 0, fmt.Errorf("reclaim tasks held by stale worker %s: %w", workerID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit stale-worker sweep tx: %w", err)
	}

	if len(workerIDs) > 0 {
		logger.Get().Warn().Int("count", len(workerIDs)).Strs("worker_ids", workerIDs).Msg("marked stale workers stopped and reclaimed their tasks")
	}
	return len(workerIDs), nil
}
