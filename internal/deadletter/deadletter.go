// Package deadletter implements the dead-letter store of spec §4.3: tasks
// that exhausted their retry budget are captured here with full attempt
// history, and may be reprocessed back onto the queue.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/metrics"
	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/task"
)

// ErrNotFound is returned when a dead-letter lookup misses.
var ErrNotFound = errors.New("deadletter: entry not found")

// ErrAlreadyReprocessed guards Reprocess's idempotency: a second call on
// an already-reprocessed entry is a no-op reported as this error so callers
// can distinguish "nothing happened" from a transport failure.
var ErrAlreadyReprocessed = errors.New("deadletter: entry already reprocessed")

// AttemptRecord is one failed attempt preserved for post-mortem.
type AttemptRecord struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is one dead-lettered task (spec §3's Dead-letter entity).
type Entry struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id"`
	ExecutionID   string          `json:"execution_id"`
	WorkflowName  string          `json:"workflow_name"`
	StepName      string          `json:"step_name"`
	Input         map[string]any  `json:"input,omitempty"`
	ErrorHistory  []AttemptRecord `json:"error_history"`
	Error         string          `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	Reprocessed   bool            `json:"reprocessed"`
	ReprocessedAt *time.Time      `json:"reprocessed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store is the Postgres-backed dead-letter queue.
type Store struct {
	db *store.DB
}

// NewStore creates a dead-letter store bound to the given pool.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, letting Add run
// standalone or inside a caller's larger transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Add moves a dead-lettered task into the dead_letters table. Called by the
// engine after the queue's Fail has already set the task's status to
// DEAD_LETTER; this persists the audit record alongside it.
func (s *Store) Add(ctx context.Context, t *task.Task, workflowName string, history []AttemptRecord) error {
	return addWith(ctx, s.db.Pool, t, workflowName, history)
}

// AddTx is Add's transactional form, used by the engine's FailAndAdvance
// so a task's dead-letter record commits atomically with its status change
// and the execution's resulting transition (spec §4.7).
func (s *Store) AddTx(ctx context.Context, tx pgx.Tx, t *task.Task, workflowName string, history []AttemptRecord) error {
	return addWith(ctx, tx, t, workflowName, history)
}

func addWith(ctx context.Context, ex execer, t *task.Task, workflowName string, history []AttemptRecord) error {
	inputJSON, err := store.EncodeJSON(t.Input)
	if err != nil {
		return fmt.Errorf("encode dead-letter input: %w", err)
	}

	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode dead-letter history: %w", err)
	}

	_, err = ex.Exec(ctx, `
		INSERT INTO dead_letters (id, task_id, execution_id, workflow_name, step_name, input, error_history, error, attempts, reprocessed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)
		ON CONFLICT (task_id) DO NOTHING
	`, uuid.New().String(), t.ID, t.ExecutionID, workflowName, t.StepName, inputJSON, historyJSON, t.Error, t.Attempt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert dead letter for task %s: %w", t.ID, err)
	}

	metrics.RecordDLQAdded(workflowName, t.StepName)
	logger.WithTask(t.ID).Warn().Str("step", t.StepName).Msg("task dead-lettered")
	return nil
}

// Get retrieves a single dead-letter entry by task ID.
func (s *Store) Get(ctx context.Context, taskID string) (*Entry, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT id, task_id, execution_id, workflow_name, step_name, input, error_history, error, attempts, reprocessed, reprocessed_at, created_at
		FROM dead_letters WHERE task_id = $1
	`, taskID)
	return scanEntry(row)
}

// List returns dead-letter entries, optionally filtered to unreprocessed
// ones only, newest first.
func (s *Store) List(ctx context.Context, unreprocessedOnly bool, limit int) ([]*Entry, error) {
	query := `
		SELECT id, task_id, execution_id, workflow_name, step_name, input, error_history, error, attempts, reprocessed, reprocessed_at, created_at
		FROM dead_letters`
	if unreprocessedOnly {
		query += ` WHERE reprocessed = false`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Reprocess inserts a fresh PENDING task (attempt 0) that copies the
// dead-lettered task's step, input and retry settings, and marks this entry
// reprocessed; the dead-lettered task row itself stays DEAD_LETTER.
// Idempotent: a second call returns ErrAlreadyReprocessed rather than
// re-queuing the task twice.
func (s *Store) Reprocess(ctx context.Context, taskID string) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reprocess tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var reprocessed bool
	var workflowName, stepName string
	err = tx.QueryRow(ctx, `SELECT reprocessed, workflow_name, step_name FROM dead_letters WHERE task_id = $1 FOR UPDATE`, taskID).
		Scan(&reprocessed, &workflowName, &stepName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock dead letter %s: %w", taskID, err)
	}
	if reprocessed {
		return ErrAlreadyReprocessed
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		INSERT INTO tasks (id, execution_id, step_name, step_type, step_order, status, input, attempt, max_attempts,
			parallel_group, branch_key, priority, backoff_strategy, backoff_base_ms, version, created_at, updated_at)
		SELECT $1, execution_id, step_name, step_type, step_order, 'PENDING', input, 0, max_attempts,
			parallel_group, branch_key, priority, backoff_strategy, backoff_base_ms, 1, $2, $2
		FROM tasks WHERE id = $3
	`, uuid.New().String(), now, taskID); err != nil {
		return fmt.Errorf("requeue task %s: %w", taskID, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE dead_letters SET reprocessed = true, reprocessed_at = $1 WHERE task_id = $2
	`, now, taskID); err != nil {
		return fmt.Errorf("mark dead letter %s reprocessed: %w", taskID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reprocess tx: %w", err)
	}

	metrics.RecordDLQReprocessed(workflowName, stepName)
	return nil
}

// ReprocessBatch reprocesses every currently-unreprocessed entry, skipping
// (not failing) entries that lose a race against a concurrent reprocess.
func (s *Store) ReprocessBatch(ctx context.Context) (int, error) {
	entries, err := s.List(ctx, true, 1000)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, e := range entries {
		if err := s.Reprocess(ctx, e.TaskID); err != nil {
			if errors.Is(err, ErrAlreadyReprocessed) || errors.Is(err, ErrNotFound) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var inputRaw, historyRaw []byte

	err := row.Scan(&e.ID, &e.TaskID, &e.ExecutionID, &e.WorkflowName, &e.StepName,
		&inputRaw, &historyRaw, &e.Error, &e.Attempts, &e.Reprocessed, &e.ReprocessedAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if e.Input, err = store.DecodeJSON(inputRaw); err != nil {
		return nil, err
	}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &e.ErrorHistory); err != nil {
			return nil, fmt.Errorf("decode error history: %w", err)
		}
	}

	return &e, nil
}
