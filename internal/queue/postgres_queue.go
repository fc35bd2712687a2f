// Package queue implements the task queue contract of spec §4.1 against
// Postgres: exactly-once acquisition via SKIP LOCKED, optimistic-lock
// guarded completion/failure, and orphan reclamation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/metrics"
	"github.com/flowforge/orchestrator/internal/retry"
	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/task"
)

// ErrVersionConflict is returned by Fail when the optimistic-lock write
// affected zero rows: another writer already moved the task. Complete does
// not return it: it treats a zero-row update as a benign race and returns
// nil (spec §4.1).
var ErrVersionConflict = errors.New("queue: version conflict, task already moved")

// ErrTaskNotFound is returned when an operation finds no task row to act
// on: the ID does not exist, or (for Release) the task is not LOCKED.
var ErrTaskNotFound = errors.New("queue: task not found")

// PostgresQueue implements the task queue contract of spec §4.1 directly
// against Postgres, mirroring the method set of the teacher's Redis-backed
// queue (Acquire/Complete/Fail/Release) but replacing consumer-group
// semantics with SKIP LOCKED row acquisition and optimistic-lock writes.
type PostgresQueue struct {
	db          *store.DB
	lockTimeout time.Duration
}

// NewPostgresQueue creates a queue bound to the given pool.
func NewPostgresQueue(db *store.DB, lockTimeout time.Duration) *PostgresQueue {
	return &PostgresQueue{db: db, lockTimeout: lockTimeout}
}

// Acquire atomically transitions up to limit acquirable tasks from PENDING
// to LOCKED for workerID, ordering by priority then age (spec §4.1). It is
// a single round trip: SELECT ... FOR UPDATE SKIP LOCKED feeds an UPDATE ...
// RETURNING in one CTE, so concurrent callers never observe or claim the
// same row.
func (q *PostgresQueue) Acquire(ctx context.Context, workerID string, limit int) ([]*task.Task, error) {
	now := time.Now().UTC()
	lockTimeoutAt := now.Add(q.lockTimeout)

	rows, err := q.db.Pool.Query(ctx, `
		WITH acquirable AS (
			SELECT id FROM tasks
			WHERE status = 'PENDING' AND (next_retry_at IS NULL OR next_retry_at <= $1)
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE tasks SET
			status = 'LOCKED',
			locked_by = $3,
			locked_at = $1,
			lock_timeout_at = $4,
			version = version + 1,
			updated_at = $1
		FROM acquirable
		WHERE tasks.id = acquirable.id
		RETURNING tasks.id, tasks.execution_id, tasks.step_name, tasks.step_type,
			tasks.step_order, tasks.status, tasks.input, tasks.output, tasks.error,
			tasks.attempt, tasks.max_attempts, tasks.next_retry_at, tasks.locked_by,
			tasks.locked_at, tasks.lock_timeout_at, tasks.started_at, tasks.completed_at,
			tasks.parallel_group, tasks.branch_key, tasks.priority, tasks.backoff_strategy,
			tasks.backoff_base_ms, tasks.metadata, tasks.version, tasks.created_at, tasks.updated_at
	`, now, limit, workerID, lockTimeoutAt)
	if err != nil {
		return nil, fmt.Errorf("acquire tasks: %w", err)
	}
	defer rows.Close()

	var acquired []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan acquired task: %w", err)
		}
		acquired = append(acquired, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("acquire tasks: %w", err)
	}

	metrics.UpdateQueueDepth(string(task.StepSequential), float64(len(acquired)))
	return acquired, nil
}

// ListByExecution returns every task belonging to executionID, in dispatch
// order, for the API's execution-detail endpoint.
func (q *PostgresQueue) ListByExecution(ctx context.Context, executionID string) ([]*task.Task, error) {
	rows, err := q.db.Pool.Query(ctx, `
		SELECT id, execution_id, step_name, step_type,
			step_order, status, input, output, error,
			attempt, max_attempts, next_retry_at, locked_by,
			locked_at, lock_timeout_at, started_at, completed_at,
			parallel_group, branch_key, priority, backoff_strategy,
			backoff_base_ms, metadata, version, created_at, updated_at
		FROM tasks WHERE execution_id = $1 ORDER BY step_order ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for execution %s: %w", executionID, err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task for execution %s: %w", executionID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, so Complete's SQL
// can run standalone or as part of a caller's larger transaction (spec
// §4.7's CompleteAndAdvance needs the latter: the task completion and the
// dispatcher's advancement must commit or roll back together).
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Complete refuses to re-complete a task already in a terminal status
// (idempotent double-complete safe) and is version-checked: a zero-row
// update means another writer already finished this task, which is
// swallowed as a benign race (spec §4.1).
func (q *PostgresQueue) Complete(ctx context.Context, t *task.Task, output map[string]any) error {
	return completeWith(ctx, q.db.Pool, t, output)
}

// CompleteTx is Complete's transactional form, used by the engine's
// CompleteAndAdvance so a task's completion and the workflow's advancement
// commit atomically (spec §4.7).
func (q *PostgresQueue) CompleteTx(ctx context.Context, tx pgx.Tx, t *task.Task, output map[string]any) error {
	return completeWith(ctx, tx, t, output)
}

func completeWith(ctx context.Context, ex execer, t *task.Task, output map[string]any) error {
	outputJSON, err := store.EncodeJSON(output)
	if err != nil {
		return fmt.Errorf("encode task output: %w", err)
	}

	now := time.Now().UTC()
	tag, err := ex.Exec(ctx, `
		UPDATE tasks SET
			status = 'COMPLETED',
			output = $1,
			locked_by = NULL,
			locked_at = NULL,
			lock_timeout_at = NULL,
			completed_at = $2,
			updated_at = $2,
			version = version + 1
		WHERE id = $3 AND version = $4 AND status NOT IN ('COMPLETED', 'FAILED', 'DEAD_LETTER', 'CANCELLED')
	`, outputJSON, now, t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", t.ID, err)
	}

	if tag.RowsAffected() == 0 {
		logger.Get().Debug().Str("task_id", t.ID).Msg("complete: version conflict or already terminal, ignoring")
		return nil
	}

	return nil
}

// Fail increments attempt and either schedules a retry (status=PENDING,
// next_retry_at set from the policy) or, once attempts are exhausted,
// moves the task to DEAD_LETTER. t.Metadata is persisted as-is, so a caller
// that has appended this attempt's error to it (the worker's attempt
// history, read back on the task's next acquisition) carries that forward
// across retries. The caller is responsible for writing the dead-letter
// record via internal/deadletter once this returns task.StatusDeadLetter.
func (q *PostgresQueue) Fail(ctx context.Context, t *task.Task, errMsg string, policy retry.Policy) (task.Status, error) {
	return failWith(ctx, q.db.Pool, t, errMsg, policy)
}

// FailTx is Fail's transactional form, used by the engine's
// FailAndAdvance when the dead-letter record must be written in the
// same transaction as the status change (spec §4.7's atomicity applies
// symmetrically to the failure path).
func (q *PostgresQueue) FailTx(ctx context.Context, tx pgx.Tx, t *task.Task, errMsg string, policy retry.Policy) (task.Status, error) {
	return failWith(ctx, tx, t, errMsg, policy)
}

func failWith(ctx context.Context, ex execer, t *task.Task, errMsg string, policy retry.Policy) (task.Status, error) {
	now := time.Now().UTC()
	nextAttempt := t.Attempt + 1
	newStatus, nextRetryAt := decideFailureOutcome(policy, nextAttempt, now)

	metadataJSON, err := store.EncodeStringMap(t.Metadata)
	if err != nil {
		return "", fmt.Errorf("encode task metadata: %w", err)
	}

	tag, err := ex.Exec(ctx, `
		UPDATE tasks SET
			status = $1,
			error = $2,
			attempt = $3,
			next_retry_at = $4,
			locked_by = NULL,
			locked_at = NULL,
			lock_timeout_at = NULL,
			metadata = $5,
			updated_at = $6,
			version = version + 1
		WHERE id = $7 AND version = $8
	`, string(newStatus), errMsg, nextAttempt, nextRetryAt, metadataJSON, now, t.ID, t.Version)
	if err != nil {
		return "", fmt.Errorf("fail task %s: %w", t.ID, err)
	}

	if tag.RowsAffected() == 0 {
		return "", ErrVersionConflict
	}

	if newStatus == task.StatusPending {
		metrics.RecordTaskRetry(t.ExecutionID, t.StepName)
	}
	return newStatus, nil
}

// Release resets a LOCKED task back to PENDING without touching attempt,
// used during a worker's graceful drain.
func (q *PostgresQueue) Release(ctx context.Context, taskID string) error {
	now := time.Now().UTC()
	tag, err := q.db.Pool.Exec(ctx, `
		UPDATE tasks SET
			status = 'PENDING',
			locked_by = NULL,
			locked_at = NULL,
			lock_timeout_at = NULL,
			updated_at = $1,
			version = version + 1
		WHERE id = $2 AND status = 'LOCKED'
	`, now, taskID)
	if err != nil {
		return fmt.Errorf("release task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Reclaim atomically resets every orphaned (LOCKED, lock-timed-out) task
// back to PENDING. Attempt is not incremented: a lock timeout is not a
// handler failure (spec §4.1).
func (q *PostgresQueue) Reclaim(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	tag, err := q.db.Pool.Exec(ctx, `
		UPDATE tasks SET
			status = 'PENDING',
			locked_by = NULL,
			locked_at = NULL,
			lock_timeout_at = NULL,
			updated_at = $1,
			version = version + 1
		WHERE status = 'LOCKED' AND lock_timeout_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("reclaim orphaned tasks: %w", err)
	}

	n := tag.RowsAffected()
	if n > 0 {
		metrics.RecordOrphanReclaim()
		logger.Get().Info().Int64("count", n).Msg("reclaimed orphaned tasks")
	}
	return n, nil
}

// decideFailureOutcome is the pure decision at the heart of Fail: retry
// under the policy, or give up and dead-letter. Split out so it is testable
// without a database.
func decideFailureOutcome(policy retry.Policy, nextAttempt int, now time.Time) (task.Status, *time.Time) {
	if retry.ShouldRetry(policy, nextAttempt) {
		at := retry.NextRetryAt(policy, nextAttempt, now)
		return task.StatusPending, &at
	}
	return task.StatusDeadLetter, nil
}

// ReleaseLockedByWorker is used on worker shutdown (spec §4.8 step 7):
// every task still LOCKED by workerID is released back to PENDING.
func (q *PostgresQueue) ReleaseLockedByWorker(ctx context.Context, workerID string) (int64, error) {
	now := time.Now().UTC()
	tag, err := q.db.Pool.Exec(ctx, `
		UPDATE tasks SET
			status = 'PENDING',
			locked_by = NULL,
			locked_at = NULL,
			lock_timeout_at = NULL,
			updated_at = $1,
			version = version + 1
		WHERE status = 'LOCKED' AND locked_by = $2
	`, now, workerID)
	if err != nil {
		return 0, fmt.Errorf("release tasks locked by %s: %w", workerID, err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var inputRaw, outputRaw, metadataRaw []byte
	var statusStr, stepTypeStr, backoffStr string
	var backoffBaseMs int64
	var priorityInt int

	err := row.Scan(
		&t.ID, &t.ExecutionID, &t.StepName, &stepTypeStr,
		&t.StepOrder, &statusStr, &inputRaw, &outputRaw, &t.Error,
		&t.Attempt, &t.MaxAttempts, &t.NextRetryAt, &t.LockedBy,
		&t.LockedAt, &t.LockTimeoutAt, &t.StartedAt, &t.CompletedAt,
		&t.ParallelGroup, &t.BranchKey, &priorityInt, &backoffStr,
		&backoffBaseMs, &metadataRaw, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	t.Status = task.Status(statusStr)
	t.StepType = task.StepType(stepTypeStr)
	t.Priority = task.Priority(priorityInt)
	t.BackoffPolicy.Strategy = retry.Strategy(backoffStr)
	t.BackoffPolicy.BaseDelay = time.Duration(backoffBaseMs) * time.Millisecond
	t.BackoffPolicy.MaxAttempts = t.MaxAttempts

	if t.Input, err = store.DecodeJSON(inputRaw); err != nil {
		return nil, err
	}
	if t.Output, err = store.DecodeJSON(outputRaw); err != nil {
		return nil, err
	}
	var metaErr error
	if t.Metadata, metaErr = store.DecodeStringMap(metadataRaw); metaErr != nil {
		return nil, metaErr
	}

	return &t, nil
}
