package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowforge/orchestrator/internal/retry"
	"github.com/flowforge/orchestrator/internal/task"
)

func TestDecideFailureOutcome_Retry(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 3, Strategy: retry.Fixed, BaseDelay: time.Second}
	now := time.Now().UTC()

	status, nextRetryAt := decideFailureOutcome(policy, 1, now)

	assert.Equal(t, task.StatusPending, status)
	if assert.NotNil(t, nextRetryAt) {
		assert.True(t, nextRetryAt.After(now))
	}
}

func TestDecideFailureOutcome_Exhausted(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 3, Strategy: retry.Fixed, BaseDelay: time.Second}
	now := time.Now().UTC()

	status, nextRetryAt := decideFailureOutcome(policy, 3, now)

	assert.Equal(t, task.StatusDeadLetter, status)
	assert.Nil(t, nextRetryAt)
}

func TestDecideFailureOutcome_MaxAttemptsOne_DeadLettersOnFirstFailure(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 1, Strategy: retry.Fixed, BaseDelay: time.Second}
	now := time.Now().UTC()

	status, _ := decideFailureOutcome(policy, 1, now)

	assert.Equal(t, task.StatusDeadLetter, status)
}
