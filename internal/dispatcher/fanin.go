package dispatcher

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/flowforge/orchestrator/internal/metrics"
	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/task"
)

// FanInResult is the outcome of checking a parallel block's siblings after
// one of them reaches a terminal status.
type FanInResult struct {
	Complete        bool           // every sibling has reached a terminal status
	AllDeadLettered bool           // Complete && no sibling was COMPLETED
	Outputs         map[string]any // stepName -> output, successful siblings only
}

// CheckFanIn implements spec §4.5's fan-in detection, serialized by a
// row-level lock on the execution (the concurrency note's requirement):
// the caller must invoke this inside a transaction that has already taken
// `SELECT ... FOR UPDATE` on the owning execution row, so that of N
// concluding siblings racing to be "the last one", exactly one observes
// Complete=true.
func CheckFanIn(ctx context.Context, tx pgx.Tx, executionID, parallelGroup string) (*FanInResult, error) {
	rows, err := tx.Query(ctx, `
		SELECT step_name, status, output FROM tasks
		WHERE execution_id = $1 AND parallel_group = $2
	`, executionID, parallelGroup)
	if err != nil {
		return nil, fmt.Errorf("query parallel group %s/%s: %w", executionID, parallelGroup, err)
	}
	defer rows.Close()

	result := &FanInResult{Outputs: map[string]any{}}
	anyCompleted := false
	for rows.Next() {
		var stepName, statusStr string
		var outputRaw []byte
		if err := rows.Scan(&stepName, &statusStr, &outputRaw); err != nil {
			return nil, fmt.Errorf("scan parallel sibling: %w", err)
		}

		status := task.Status(statusStr)
		if !status.IsTerminal() {
			metrics.FanInChecks.Inc()
			return &FanInResult{Complete: false}, nil
		}
		if status == task.StatusCompleted {
			anyCompleted = true
			output, err := store.DecodeJSON(outputRaw)
			if err != nil {
				return nil, err
			}
			result.Outputs[stepName] = output
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metrics.FanInChecks.Inc()
	result.Complete = true
	result.AllDeadLettered = !anyCompleted
	return result, nil
}

// LockExecution takes the row-level lock spec §4.5 requires before a
// fan-in check, returning the execution's current status so the caller can
// apply the cancellation discipline (spec §4.6: a terminal execution never
// advances).
func LockExecution(ctx context.Context, tx pgx.Tx, executionID string) (status string, err error) {
	err = tx.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1 FOR UPDATE`, executionID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("lock execution %s: %w", executionID, err)
	}
	return status, nil
}

