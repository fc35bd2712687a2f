package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/orchestrator/internal/events"
	"github.com/flowforge/orchestrator/internal/execution"
	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/metrics"
	"github.com/flowforge/orchestrator/internal/store"
)

// TimeoutChecker finds RUNNING executions past their timeout-at and
// transitions them to TIMED_OUT (spec §4 cancellation & timeout). Their
// in-flight tasks are left alone: a handler that later completes or fails
// is a no-op, since the engine's lockAndCheckTerminal guard refuses to
// advance an execution that has already reached a terminal status.
type TimeoutChecker struct {
	db        *store.DB
	publisher events.Publisher
	interval  time.Duration
}

// NewTimeoutChecker creates a TimeoutChecker. publisher may be nil.
func NewTimeoutChecker(db *store.DB, publisher events.Publisher, interval time.Duration) *TimeoutChecker {
	return &TimeoutChecker{db: db, publisher: publisher, interval: interval}
}

func (c *TimeoutChecker) Interval() time.Duration { return c.interval }

// Sweep times out every RUNNING execution whose timeout_at has passed,
// returning how many were transitioned.
func (c *TimeoutChecker) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	rows, err := c.db.Pool.Query(ctx, `
		UPDATE executions SET
			status = $1, error = 'execution timed out', completed_at = $2, updated_at = $2, version = version + 1
		WHERE status = $3 AND timeout_at IS NOT NULL AND timeout_at <= $2
		RETURNING id, workflow_name, created_at
	`, execution.StatusTimedOut.String(), now, execution.StatusRunning.String())
	if err != nil {
		return 0, fmt.Errorf("sweep timed-out executions: %w", err)
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		var id, workflowName string
		var createdAt time.Time
		if err := rows.Scan(&id, &workflowName, &createdAt); err != nil {
			return count, err
		}
		count++
		metrics.RecordExecutionTerminal(workflowName, execution.StatusTimedOut.String(), now.Sub(createdAt).Seconds())
		if c.publisher != nil {
			if err := c.publisher.Publish(ctx, events.New(events.ExecutionTimedOut, id, nil)); err != nil {
				logger.WithExecution(id).Warn().Err(err).Msg("failed to publish timeout event")
			}
		}
	}
	if err := rows.Err(); err != nil {
		return count, err
	}

	if count > 0 {
		logger.Get().Info().Int("count", count).Msg("timed out stale executions")
	}
	return count, nil
}
