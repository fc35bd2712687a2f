package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/internal/retry"
	"github.com/flowforge/orchestrator/internal/task"
)

func newTestTask(stepName string) *task.Task {
	return task.New("exec-1", stepName, task.StepSequential, 0, map[string]any{"key": "value"}, retry.DefaultPolicy())
}

func TestNewExecutor_NilHandlers(t *testing.T) {
	executor := NewExecutor(nil)
	assert.NotNil(t, executor.handlers)
	assert.False(t, executor.HasHandler("anything"))
}

func TestExecutor_RegisterHandler(t *testing.T) {
	executor := NewExecutor(nil)
	executor.RegisterHandler("send-email", func(ctx context.Context, t *task.Task) (map[string]any, error) {
		return map[string]any{"result": "ok"}, nil
	})

	assert.True(t, executor.HasHandler("send-email"))
	assert.False(t, executor.HasHandler("other"))
}

func TestExecutor_Execute_Success(t *testing.T) {
	handlers := map[string]TaskHandler{
		"echo": func(ctx context.Context, t *task.Task) (map[string]any, error) {
			return map[string]any{"echoed": t.Input["key"]}, nil
		},
	}
	executor := NewExecutor(handlers)
	tk := newTestTask("echo-step")

	result, err := executor.Execute(context.Background(), "echo", tk)

	require.NoError(t, err)
	assert.Equal(t, "value", result["echoed"])
}

func TestExecutor_Execute_HandlerNotFound(t *testing.T) {
	executor := NewExecutor(nil)
	tk := newTestTask("missing-step")

	result, err := executor.Execute(context.Background(), "unregistered", tk)

	assert.ErrorIs(t, err, ErrHandlerNotFound)
	assert.Nil(t, result)
}

func TestExecutor_Execute_Error(t *testing.T) {
	wantErr := errors.New("boom")
	handlers := map[string]TaskHandler{
		"fail": func(ctx context.Context, t *task.Task) (map[string]any, error) {
			return nil, wantErr
		},
	}
	executor := NewExecutor(handlers)

	result, err := executor.Execute(context.Background(), "fail", newTestTask("fail-step"))

	assert.Equal(t, wantErr, err)
	assert.Nil(t, result)
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	handlers := map[string]TaskHandler{
		"slow": func(ctx context.Context, t *task.Task) (map[string]any, error) {
			select {
			case <-time.After(5 * time.Second):
				return map[string]any{"done": true}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	executor := NewExecutor(handlers)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := executor.Execute(ctx, "slow", newTestTask("slow-step"))

	assert.ErrorIs(t, err, ErrTaskTimeout)
	assert.Nil(t, result)
}

func TestExecutor_Execute_Canceled(t *testing.T) {
	handlers := map[string]TaskHandler{
		"slow": func(ctx context.Context, t *task.Task) (map[string]any, error) {
			select {
			case <-time.After(5 * time.Second):
				return map[string]any{"done": true}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	executor := NewExecutor(handlers)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := executor.Execute(ctx, "slow", newTestTask("slow-step"))

	assert.ErrorIs(t, err, ErrTaskCanceled)
	assert.Nil(t, result)
}

func TestExecutor_Execute_Panic(t *testing.T) {
	handlers := map[string]TaskHandler{
		"panics": func(ctx context.Context, t *task.Task) (map[string]any, error) {
			panic("something went wrong!")
		},
	}
	executor := NewExecutor(handlers)

	result, err := executor.Execute(context.Background(), "panics", newTestTask("panic-step"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panicked")
	assert.Nil(t, result)
}

func TestAppendAttemptHistory_AccumulatesAcrossCalls(t *testing.T) {
	tk := newTestTask("flaky-step")
	tk.Attempt = 0

	history := appendAttemptHistory(tk, errors.New("first failure"))
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Attempt)

	tk.Attempt = 1
	history = appendAttemptHistory(tk, errors.New("second failure"))
	require.Len(t, history, 2)
	assert.Equal(t, "first failure", history[0].Error)
	assert.Equal(t, "second failure", history[1].Error)
	assert.Equal(t, 2, history[1].Attempt)
}
