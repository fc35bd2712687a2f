package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/task"
)

// TaskHandler processes one task's input and returns its output. Registered
// against a workflow.Step's HandlerRef, not against the task directly: the
// same step definition drives every task materialized from it.
type TaskHandler func(ctx context.Context, t *task.Task) (map[string]any, error)

// Executor runs the handler registered for a task's step.
type Executor struct {
	handlers map[string]TaskHandler
}

// NewExecutor creates a task executor over the given handler registry,
// keyed by workflow.Step.HandlerRef.
func NewExecutor(handlers map[string]TaskHandler) *Executor {
	if handlers == nil {
		handlers = make(map[string]TaskHandler)
	}
	return &Executor{handlers: handlers}
}

// RegisterHandler registers a handler under a HandlerRef.
func (e *Executor) RegisterHandler(handlerRef string, handler TaskHandler) {
	e.handlers[handlerRef] = handler
}

// HasHandler reports whether a HandlerRef is registered.
func (e *Executor) HasHandler(handlerRef string) bool {
	_, ok := e.handlers[handlerRef]
	return ok
}

// Execute runs handlerRef's handler against t, recovering a handler panic
// into an error rather than crashing the worker.
func (e *Executor) Execute(ctx context.Context, handlerRef string, t *task.Task) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.WithTask(t.ID).Error().
				Str("step", t.StepName).
				Interface("panic", r).
				Str("stack", string(stack)).
				Msg("task handler panicked")
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	handler, ok := e.handlers[handlerRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, handlerRef)
	}

	log := logger.WithTask(t.ID)
	log.Debug().Str("step", t.StepName).Int("attempt", t.Attempt).Msg("executing task")

	start := time.Now()
	result, err = handler(ctx, t)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Dur("duration", duration).Msg("task timed out")
			return nil, ErrTaskTimeout
		}
		if errors.Is(err, context.Canceled) {
			log.Warn().Dur("duration", duration).Msg("task canceled")
			return nil, ErrTaskCanceled
		}
		log.Error().Err(err).Dur("duration", duration).Msg("task failed")
		return nil, err
	}

	log.Debug().Dur("duration", duration).Msg("task executed successfully")
	return result, nil
}

var (
	ErrHandlerNotFound = errors.New("worker: handler not found for step")
	ErrTaskTimeout     = errors.New("worker: task execution timed out")
	ErrTaskCanceled    = errors.New("worker: task execution canceled")
)
