package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/flowforge/orchestrator/internal/execution"
	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/task"
)

// insertExecution persists a newly-triggered execution and its first
// task(s) in the same transaction as the caller's dispatch decision, so a
// crash between the two can never leave an execution with no runnable work.
func insertExecution(ctx context.Context, tx pgx.Tx, workflowID string, e *execution.Execution) error {
	inputJSON, err := store.EncodeJSON(e.Input)
	if err != nil {
		return fmt.Errorf("encode execution input: %w", err)
	}

	var idempotencyKey any
	if e.IdempotencyKey != "" {
		idempotencyKey = e.IdempotencyKey
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, workflow_id, workflow_name, workflow_version, status, input, idempotency_key, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
	`, e.ID, workflowID, e.WorkflowName, e.WorkflowVersion, e.Status.String(), inputJSON, idempotencyKey, e.CreatedAt, e.Version)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", e.ID, err)
	}
	return nil
}

// executionWorkflowRef is a lightweight, lock-free lookup of which
// workflow (name, version) an execution belongs to, used by the worker to
// resolve a task's handler without loading (and locking) the whole row.
func executionWorkflowRef(ctx context.Context, db *store.DB, executionID string) (name string, version int, err error) {
	err = db.Pool.QueryRow(ctx, `SELECT workflow_name, workflow_version FROM executions WHERE id = $1`, executionID).
		Scan(&name, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, execution.ErrExecutionNotFound
		}
		return "", 0, fmt.Errorf("lookup workflow ref for execution %s: %w", executionID, err)
	}
	return name, version, nil
}

func getExecution(ctx context.Context, db *store.DB, executionID string) (*execution.Execution, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, workflow_name, workflow_version, status, input, output, error, current_step,
			idempotency_key, timeout_at, started_at, completed_at, created_at, updated_at,
			callback_url, callback_status, version
		FROM executions WHERE id = $1
	`, executionID)
	return scanExecution(row)
}

func listExecutions(ctx context.Context, db *store.DB, status string, limit int) ([]*execution.Execution, error) {
	var rows pgx.Rows
	var err error
	if status != "" {
		rows, err = db.Pool.Query(ctx, `
			SELECT id, workflow_name, workflow_version, status, input, output, error, current_step,
				idempotency_key, timeout_at, started_at, completed_at, created_at, updated_at,
				callback_url, callback_status, version
			FROM executions WHERE status = $1 ORDER BY created_at DESC LIMIT $2
		`, status, limit)
	} else {
		rows, err = db.Pool.Query(ctx, `
			SELECT id, workflow_name, workflow_version, status, input, output, error, current_step,
				idempotency_key, timeout_at, started_at, completed_at, created_at, updated_at,
				callback_url, callback_status, version
			FROM executions ORDER BY created_at DESC LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*execution.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func findExecutionByIdempotencyKey(ctx context.Context, db *store.DB, key string) (*execution.Execution, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, workflow_name, workflow_version, status, input, output, error, current_step,
			idempotency_key, timeout_at, started_at, completed_at, created_at, updated_at,
			callback_url, callback_status, version
		FROM executions WHERE idempotency_key = $1
	`, key)
	return scanExecution(row)
}

func loadExecutionForUpdate(ctx context.Context, tx pgx.Tx, executionID string) (*execution.Execution, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, workflow_name, workflow_version, status, input, output, error, current_step,
			idempotency_key, timeout_at, started_at, completed_at, created_at, updated_at,
			callback_url, callback_status, version
		FROM executions WHERE id = $1 FOR UPDATE
	`, executionID)
	return scanExecution(row)
}

// updateExecution writes back every mutable column, version-checked so a
// stale in-memory Execution can never silently clobber a newer write.
func updateExecution(ctx context.Context, tx pgx.Tx, e *execution.Execution) error {
	outputJSON, err := store.EncodeJSON(e.Output)
	if err != nil {
		return fmt.Errorf("encode execution output: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE executions SET
			status = $1, output = $2, error = $3, current_step = $4,
			started_at = $5, completed_at = $6, updated_at = $7, version = $8
		WHERE id = $9 AND version = $10
	`, e.Status.String(), outputJSON, e.Error, e.CurrentStep, e.StartedAt, e.CompletedAt, e.UpdatedAt, e.Version, e.ID, e.Version-1)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return execution.ErrInvalidTransition
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*execution.Execution, error) {
	var e execution.Execution
	var inputRaw, outputRaw []byte
	var statusStr string
	var idempotencyKey *string

	err := row.Scan(&e.ID, &e.WorkflowName, &e.WorkflowVersion, &statusStr, &inputRaw, &outputRaw,
		&e.Error, &e.CurrentStep, &idempotencyKey, &e.TimeoutAt, &e.StartedAt, &e.CompletedAt,
		&e.CreatedAt, &e.UpdatedAt, &e.CallbackURL, &e.CallbackStatus, &e.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, execution.ErrExecutionNotFound
		}
		return nil, err
	}

	e.Status = execution.ParseStatus(statusStr)
	if idempotencyKey != nil {
		e.IdempotencyKey = *idempotencyKey
	}
	if e.Input, err = store.DecodeJSON(inputRaw); err != nil {
		return nil, err
	}
	if e.Output, err = store.DecodeJSON(outputRaw); err != nil {
		return nil, err
	}
	return &e, nil
}

// insertTasks writes every task the dispatcher produced in the same
// transaction as the completion/advancement that produced them.
func insertTasks(ctx context.Context, tx pgx.Tx, tasks []*task.Task) error {
	for _, t := range tasks {
		inputJSON, err := store.EncodeJSON(t.Input)
		if err != nil {
			return fmt.Errorf("encode task input: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO tasks (id, execution_id, step_name, step_type, step_order, status, input,
				attempt, max_attempts, parallel_group, branch_key, priority, backoff_strategy,
				backoff_base_ms, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		`, t.ID, t.ExecutionID, t.StepName, string(t.StepType), t.StepOrder, string(t.Status), inputJSON,
			t.Attempt, t.MaxAttempts, nullableString(t.ParallelGroup), nullableString(t.BranchKey),
			int(t.Priority), string(t.BackoffPolicy.Strategy), t.BackoffPolicy.BaseDelay.Milliseconds(),
			t.Version, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert task %s (%s): %w", t.ID, t.StepName, err)
		}
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
