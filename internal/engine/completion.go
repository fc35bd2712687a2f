package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/flowforge/orchestrator/internal/deadletter"
	"github.com/flowforge/orchestrator/internal/dispatcher"
	"github.com/flowforge/orchestrator/internal/events"
	"github.com/flowforge/orchestrator/internal/execution"
	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/metrics"
	"github.com/flowforge/orchestrator/internal/task"
	"github.com/flowforge/orchestrator/internal/workflow"
)

// CompleteAndAdvance implements spec §4.7: a task's completion and the
// workflow's resulting advancement commit in a single transaction, so a
// crash between the two can never leave a task COMPLETED with its
// execution never advanced past it. The worker calls this once a step
// handler returns successfully.
func (e *Engine) CompleteAndAdvance(ctx context.Context, t *task.Task, output map[string]any) error {
	tx, err := e.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete-and-advance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.queue.CompleteTx(ctx, tx, t, output); err != nil {
		return fmt.Errorf("complete task %s: %w", t.ID, err)
	}

	exec, handled, err := e.lockAndCheckTerminal(ctx, tx, t.ExecutionID)
	if err != nil || handled {
		return err
	}

	groupOutput, proceed, err := e.resolveGroupOutput(ctx, tx, t, output)
	if err != nil {
		return fmt.Errorf("resolve fan-in for task %s: %w", t.ID, err)
	}
	if !proceed {
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		e.publish(ctx, events.TaskCompleted, t.ExecutionID, map[string]any{"step": t.StepName})
		return nil
	}

	defn, err := e.resolveDefinition(exec.WorkflowName, exec.WorkflowVersion)
	if err != nil {
		return err
	}

	adv, err := dispatcher.Advance(defn, exec.ID, t.StepName, groupOutput, t.BranchKey)
	if err != nil {
		return fmt.Errorf("advance execution %s past %s: %w", exec.ID, t.StepName, err)
	}

	if err := e.applyAdvancement(ctx, tx, exec, defn, adv, groupOutput); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.publish(ctx, events.TaskCompleted, exec.ID, map[string]any{"step": t.StepName})
	if adv.Done {
		e.publish(ctx, events.ExecutionCompleted, exec.ID, nil)
	} else {
		e.notify.Notify(ctx)
	}
	return nil
}

// FailAndAdvance implements the failure-path counterpart of spec §4.7: a
// task's Fail outcome (retry or dead-letter) commits atomically with
// whatever workflow consequence follows. A scheduled retry has no further
// consequence for the execution. A dead-letter is recorded and, once fan-in
// (for a parallel/branch sibling) or immediately (for anything else) shows
// the step can no longer succeed, the execution fails or advances past it
// exactly as CompleteAndAdvance would.
func (e *Engine) FailAndAdvance(ctx context.Context, t *task.Task, errMsg string, history []deadletter.AttemptRecord) error {
	tx, err := e.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail-and-advance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newStatus, err := e.queue.FailTx(ctx, tx, t, errMsg, t.BackoffPolicy)
	if err != nil {
		return fmt.Errorf("fail task %s: %w", t.ID, err)
	}
	if newStatus != task.StatusDeadLetter {
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		e.publish(ctx, events.TaskFailed, t.ExecutionID, map[string]any{"step": t.StepName, "attempt": t.Attempt})
		return nil
	}

	exec, handled, err := e.lockAndCheckTerminal(ctx, tx, t.ExecutionID)
	if err != nil || handled {
		return err
	}

	if err := e.dlq.AddTx(ctx, tx, t, exec.WorkflowName, history); err != nil {
		return fmt.Errorf("record dead letter for task %s: %w", t.ID, err)
	}

	if t.ParallelGroup == "" {
		return e.failExecution(ctx, tx, exec, fmt.Sprintf("step %s dead-lettered: %s", t.StepName, errMsg))
	}

	fanIn, err := dispatcher.CheckFanIn(ctx, tx, exec.ID, t.ParallelGroup)
	if err != nil {
		return fmt.Errorf("check fan-in for %s/%s: %w", exec.ID, t.ParallelGroup, err)
	}
	if !fanIn.Complete {
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		e.publish(ctx, events.TaskDeadLettered, exec.ID, map[string]any{"step": t.StepName})
		return nil
	}
	if fanIn.AllDeadLettered {
		return e.failExecution(ctx, tx, exec, fmt.Sprintf("parallel block %s: every task dead-lettered", t.ParallelGroup))
	}

	defn, err := e.resolveDefinition(exec.WorkflowName, exec.WorkflowVersion)
	if err != nil {
		return err
	}
	adv, err := dispatcher.Advance(defn, exec.ID, t.StepName, fanIn.Outputs, t.BranchKey)
	if err != nil {
		return fmt.Errorf("advance execution %s past dead-lettered %s: %w", exec.ID, t.StepName, err)
	}
	if err := e.applyAdvancement(ctx, tx, exec, defn, adv, fanIn.Outputs); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.publish(ctx, events.TaskDeadLettered, exec.ID, map[string]any{"step": t.StepName})
	if adv.Done {
		e.publish(ctx, events.ExecutionCompleted, exec.ID, nil)
	} else {
		e.notify.Notify(ctx)
	}
	return nil
}

func (e *Engine) failExecution(ctx context.Context, tx pgx.Tx, exec *execution.Execution, reason string) error {
	sm := execution.NewStateMachine(exec)
	if err := sm.Fail(reason); err != nil {
		return fmt.Errorf("fail execution %s: %w", exec.ID, err)
	}
	if err := updateExecution(ctx, tx, exec); err != nil {
		return err
	}
	metrics.RecordExecutionTerminal(exec.WorkflowName, exec.Status.String(), exec.CompletedAt.Sub(exec.CreatedAt).Seconds())
	logger.WithExecution(exec.ID).Warn().Str("reason", reason).Msg("execution failed")
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.publish(ctx, events.ExecutionFailed, exec.ID, map[string]any{"reason": reason})
	return nil
}

// lockAndCheckTerminal locks the execution row and reports handled=true
// when the caller should do nothing further: the execution already
// reached a terminal status, so the no-resurrection invariant (spec §4.4)
// forbids any further advancement.
func (e *Engine) lockAndCheckTerminal(ctx context.Context, tx pgx.Tx, executionID string) (exec *execution.Execution, handled bool, err error) {
	exec, err = loadExecutionForUpdate(ctx, tx, executionID)
	if err != nil {
		return nil, true, err
	}
	if exec.Status.IsTerminal() {
		return exec, true, tx.Commit(ctx)
	}
	return exec, false, nil
}

// resolveGroupOutput decides what output to advance with: a PARALLEL task
// waits for its whole sibling group to fan in and then advances with the
// group's outputs, while any other task (sequential, or a branch step
// whose group is its branch block) advances immediately on its own output.
func (e *Engine) resolveGroupOutput(ctx context.Context, tx pgx.Tx, t *task.Task, output map[string]any) (map[string]any, bool, error) {
	if t.ParallelGroup == "" || t.StepType != task.StepParallel {
		return output, true, nil
	}

	fanIn, err := dispatcher.CheckFanIn(ctx, tx, t.ExecutionID, t.ParallelGroup)
	if err != nil {
		return nil, false, err
	}
	if !fanIn.Complete {
		return nil, false, nil
	}
	return fanIn.Outputs, true, nil
}

// applyAdvancement writes the dispatcher's decision: either complete the
// execution, or insert the next task(s).
func (e *Engine) applyAdvancement(ctx context.Context, tx pgx.Tx, exec *execution.Execution, defn *workflow.Definition, adv *dispatcher.Advancement, output map[string]any) error {
	if adv.Done {
		sm := execution.NewStateMachine(exec)
		if err := sm.Complete(output); err != nil {
			return fmt.Errorf("complete execution %s: %w", exec.ID, err)
		}
		if err := updateExecution(ctx, tx, exec); err != nil {
			return err
		}
		metrics.RecordExecutionTerminal(exec.WorkflowName, exec.Status.String(), exec.CompletedAt.Sub(exec.CreatedAt).Seconds())
		logger.WithExecution(exec.ID).Info().Msg("execution completed")
		return nil
	}

	for _, t := range adv.Tasks {
		t.ExecutionID = exec.ID
	}
	if err := insertTasks(ctx, tx, adv.Tasks); err != nil {
		return err
	}
	for _, t := range adv.Tasks {
		metrics.RecordTaskDispatch(defn.Name, t.StepName, string(t.StepType))
	}
	return nil
}
