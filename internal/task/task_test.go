package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowforge/orchestrator/internal/retry"
)

func TestPriority_String(t *testing.T) {
	tests := []struct {
		priority Priority
		expected string
	}{
		{PriorityLow, "low"},
		{PriorityNormal, "normal"},
		{PriorityHigh, "high"},
		{PriorityCritical, "critical"},
		{Priority(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.priority.String())
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusLocked.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusDeadLetter.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestNew(t *testing.T) {
	policy := retry.DefaultPolicy()
	input := map[string]any{"order_id": "o-1"}

	tk := New("exec-1", "charge", StepSequential, 0, input, policy)

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, "exec-1", tk.ExecutionID)
	assert.Equal(t, "charge", tk.StepName)
	assert.Equal(t, StepSequential, tk.StepType)
	assert.Equal(t, 0, tk.StepOrder)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, input, tk.Input)
	assert.Equal(t, 0, tk.Attempt)
	assert.Equal(t, policy.MaxAttempts, tk.MaxAttempts)
	assert.Equal(t, PriorityNormal, tk.Priority)
	assert.False(t, tk.CreatedAt.IsZero())
	assert.False(t, tk.UpdatedAt.IsZero())
}

func TestTask_CanRetry(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 3}
	tk := New("exec-1", "charge", StepSequential, 0, nil, policy)

	tk.Attempt = 0
	assert.True(t, tk.CanRetry())

	tk.Attempt = 2
	assert.True(t, tk.CanRetry())

	tk.Attempt = 3
	assert.False(t, tk.CanRetry())

	tk.Attempt = 5
	assert.False(t, tk.CanRetry())
}

func TestTask_IsAcquirable(t *testing.T) {
	now := time.Now().UTC()
	tk := New("exec-1", "charge", StepSequential, 0, nil, retry.DefaultPolicy())

	assert.True(t, tk.IsAcquirable(now))

	tk.Status = StatusLocked
	assert.False(t, tk.IsAcquirable(now))

	tk.Status = StatusPending
	future := now.Add(time.Minute)
	tk.NextRetryAt = &future
	assert.False(t, tk.IsAcquirable(now))
	assert.True(t, tk.IsAcquirable(future.Add(time.Second)))
}

func TestTask_IsOrphaned(t *testing.T) {
	now := time.Now().UTC()
	tk := New("exec-1", "charge", StepSequential, 0, nil, retry.DefaultPolicy())
	tk.Status = StatusLocked

	past := now.Add(-time.Minute)
	tk.LockTimeoutAt = &past
	assert.True(t, tk.IsOrphaned(now))

	future := now.Add(time.Minute)
	tk.LockTimeoutAt = &future
	assert.False(t, tk.IsOrphaned(now))

	tk.Status = StatusRunning
	tk.LockTimeoutAt = &past
	assert.False(t, tk.IsOrphaned(now))
}
