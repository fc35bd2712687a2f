// Package engine implements the execution state machine's event handlers
// of spec §4.6: Trigger starts a workflow, CompleteAndAdvance and
// FailAndAdvance (in completion.go) advance it in response to the queue,
// and Cancel stops it early.
//
// Grounded on jordie-GAIA_GO's Orchestrator, whose workflow cache plus
// DB-backed persistence and executeWorkflow/executeTask split is adapted
// here from a batch DAG walk into an event-driven model: the queue and
// worker pool drive progress one task event at a time instead of the
// orchestrator walking the whole graph itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/flowforge/orchestrator/internal/deadletter"
	"github.com/flowforge/orchestrator/internal/dispatcher"
	"github.com/flowforge/orchestrator/internal/events"
	"github.com/flowforge/orchestrator/internal/execution"
	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/metrics"
	"github.com/flowforge/orchestrator/internal/notifier"
	"github.com/flowforge/orchestrator/internal/queue"
	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/task"
	"github.com/flowforge/orchestrator/internal/workflow"
)

// ErrWorkflowNotFound wraps workflow.ErrNotRegistered at the engine
// boundary so API handlers can map it to a 404 without importing
// internal/workflow's error directly.
var ErrWorkflowNotFound = errors.New("engine: workflow not registered")

// Engine wires the registry, queue and dead-letter store together to
// implement the execution state machine's transitions.
type Engine struct {
	db        *store.DB
	registry  *workflow.Registry
	queue     *queue.PostgresQueue
	dlq       *deadletter.Store
	publisher events.Publisher
	notify    *notifier.Notifier
}

// New creates an Engine bound to the given dependencies.
func New(db *store.DB, registry *workflow.Registry, q *queue.PostgresQueue, dlq *deadletter.Store) *Engine {
	return &Engine{db: db, registry: registry, queue: q, dlq: dlq}
}

// SetPublisher attaches an optional event publisher the engine notifies on
// execution lifecycle transitions, for the API's WebSocket stream. A nil
// publisher (the default) makes every publish call a no-op, matching the
// "Redis is optional" posture of the rest of the stack.
func (e *Engine) SetPublisher(p events.Publisher) {
	e.publisher = p
}

// SetNotifier attaches an optional "tasks available" hint publisher, sent
// after every commit that dispatches new tasks so a worker's pollLoop can
// wake up early instead of waiting out its fixed interval. A nil notifier
// (the default) is a no-op, leaving workers on interval polling alone.
func (e *Engine) SetNotifier(n *notifier.Notifier) {
	e.notify = n
}

// publish best-effort notifies the publisher, if any, logging (never
// failing the caller) on error: a dropped UI event is not worth failing a
// workflow transition that has already committed.
func (e *Engine) publish(ctx context.Context, eventType events.Type, executionID string, data map[string]any) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, events.New(eventType, executionID, data)); err != nil {
		logger.WithExecution(executionID).Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event")
	}
}

// Trigger starts a new execution of workflowName (version 0 means latest),
// returning the existing execution unchanged if idempotencyKey has already
// been used (spec §4.6's idempotent trigger). Insert races on the
// idempotency key are resolved by re-reading the row the unique constraint
// let through first.
func (e *Engine) Trigger(ctx context.Context, workflowName string, version int, input map[string]any, idempotencyKey string) (*execution.Execution, error) {
	if idempotencyKey != "" {
		existing, err := findExecutionByIdempotencyKey(ctx, e.db, idempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, execution.ErrExecutionNotFound) {
			return nil, fmt.Errorf("check idempotency key: %w", err)
		}
	}

	defn, err := e.resolveDefinition(workflowName, version)
	if err != nil {
		return nil, err
	}

	wfID, err := workflowID(ctx, e.db, defn.Name, defn.Version)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", workflowName, err)
	}

	adv, err := dispatcher.CreateFirstTask(defn, "", input)
	if err != nil {
		return nil, fmt.Errorf("dispatch first step of %s v%d: %w", defn.Name, defn.Version, err)
	}

	exec := execution.New(defn.Name, defn.Version, input, idempotencyKey)
	for _, t := range adv.Tasks {
		t.ExecutionID = exec.ID
	}

	tx, err := e.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin trigger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertExecution(ctx, tx, wfID, exec); err != nil {
		if idempotencyKey != "" && isUniqueViolation(err) {
			tx.Rollback(ctx)
			existing, findErr := findExecutionByIdempotencyKey(ctx, e.db, idempotencyKey)
			if findErr != nil {
				return nil, findErr
			}
			return existing, nil
		}
		return nil, err
	}
	if err := insertTasks(ctx, tx, adv.Tasks); err != nil {
		return nil, err
	}

	sm := execution.NewStateMachine(exec)
	if err := sm.Start(); err != nil {
		return nil, fmt.Errorf("start execution %s: %w", exec.ID, err)
	}
	if err := updateExecution(ctx, tx, exec); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit trigger tx: %w", err)
	}

	metrics.RecordExecutionTrigger(defn.Name)
	for _, t := range adv.Tasks {
		metrics.RecordTaskDispatch(defn.Name, t.StepName, string(t.StepType))
	}
	logger.WithExecution(exec.ID).Info().Str("workflow", defn.Name).Int("version", defn.Version).Msg("execution triggered")
	e.publish(ctx, events.ExecutionTriggered, exec.ID, map[string]any{"workflow": defn.Name, "version": defn.Version})
	e.notify.Notify(ctx)

	return exec, nil
}

// GetExecution fetches an execution by id without locking it, for the
// API's read endpoints.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*execution.Execution, error) {
	return getExecution(ctx, e.db, executionID)
}

// ListExecutions returns the most recent executions, optionally filtered by
// status ("" for all statuses), newest first.
func (e *Engine) ListExecutions(ctx context.Context, status string, limit int) ([]*execution.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	return listExecutions(ctx, e.db, status, limit)
}

// ListTasks returns every task dispatched for an execution, in dispatch
// order, for the API's execution-detail endpoint.
func (e *Engine) ListTasks(ctx context.Context, executionID string) ([]*task.Task, error) {
	return e.queue.ListByExecution(ctx, executionID)
}

// Cancel transitions a still-running execution to CANCELLED. A second
// cancel (or a cancel racing a terminal transition) is a benign no-op,
// matching the idempotent-cancel requirement of spec §8.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	tx, err := e.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	exec, err := loadExecutionForUpdate(ctx, tx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return tx.Commit(ctx)
	}

	sm := execution.NewStateMachine(exec)
	if err := sm.Cancel(); err != nil {
		return fmt.Errorf("cancel execution %s: %w", executionID, err)
	}
	if err := updateExecution(ctx, tx, exec); err != nil {
		return err
	}

	// LOCKED/RUNNING tasks are left alone: a worker may still be mid-handler
	// for them, and CompleteTx/FailTx's terminal-status guard (internal/queue)
	// would silently discard that handler's output if this raced it to
	// CANCELLED first (spec §4.6 — in-flight work finishes, its output lands
	// on the task row, even though the execution itself is already done).
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'CANCELLED', updated_at = $1, version = version + 1
		WHERE execution_id = $2 AND status = 'PENDING'
	`, time.Now().UTC(), executionID); err != nil {
		return fmt.Errorf("cancel pending tasks for %s: %w", executionID, err)
	}

	metrics.RecordExecutionTerminal(exec.WorkflowName, exec.Status.String(), exec.CompletedAt.Sub(exec.CreatedAt).Seconds())
	logger.WithExecution(executionID).Info().Msg("execution cancelled")
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.publish(ctx, events.ExecutionCancelled, executionID, nil)
	return nil
}

// ResolveStep looks up the workflow.Step that owns t, for its HandlerRef,
// Timeout and Priority, along with the Definition it belongs to (for
// logging/metrics labels). The worker calls this once per acquired task
// rather than carrying handler metadata on task.Task itself, since a Step
// belongs to the definition, not to any one run of it.
func (e *Engine) ResolveStep(ctx context.Context, t *task.Task) (*workflow.Step, *workflow.Definition, error) {
	name, version, err := executionWorkflowRef(ctx, e.db, t.ExecutionID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve step for task %s: %w", t.ID, err)
	}

	defn, err := e.resolveDefinition(name, version)
	if err != nil {
		return nil, nil, err
	}

	step, ok := defn.StepAt(t.StepOrder, t.StepName)
	if !ok {
		return nil, nil, fmt.Errorf("%s v%d: step %q not found at element %d", name, version, t.StepName, t.StepOrder)
	}
	return step, defn, nil
}

func (e *Engine) resolveDefinition(workflowName string, version int) (*workflow.Definition, error) {
	var defn *workflow.Definition
	var err error
	if version == 0 {
		defn, err = e.registry.Latest(workflowName)
	} else {
		defn, err = e.registry.Get(workflowName, version)
	}
	if err != nil {
		if errors.Is(err, workflow.ErrNotRegistered) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowName)
		}
		return nil, err
	}
	return defn, nil
}

// isUniqueViolation reports whether err is Postgres SQLSTATE 23505
// (unique_violation), the race Trigger's idempotency-key insert can hit.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
