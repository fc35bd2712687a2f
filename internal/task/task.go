// Package task holds the Task entity: the unit of work the queue,
// dispatcher and worker runtime operate on (spec §3).
package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/orchestrator/internal/retry"
)

// StepType identifies which kind of workflow element produced a task.
type StepType string

const (
	StepSequential StepType = "SEQUENTIAL"
	StepParallel   StepType = "PARALLEL"
	StepBranch     StepType = "BRANCH"
)

// Status is the lifecycle status of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusLocked     Status = "LOCKED"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether a task in this status is finished:
// COMPLETED, DEAD_LETTER, CANCELLED or FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter || s == StatusCancelled || s == StatusFailed
}

// Priority orders acquisition: higher values are acquired first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Task is one unit of work materialized by the dispatcher from a workflow
// element (spec §3).
type Task struct {
	ID            string
	ExecutionID   string
	StepName      string
	StepType      StepType
	StepOrder     int
	Status        Status
	Input         map[string]any
	Output        map[string]any
	Error         string
	Attempt       int
	MaxAttempts   int
	BackoffPolicy retry.Policy
	NextRetryAt   *time.Time
	LockedBy      string
	LockedAt      *time.Time
	LockTimeoutAt *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ParallelGroup string // empty when not part of a parallel/branch block
	BranchKey     string // empty unless StepType == StepBranch
	Priority      Priority
	Metadata      map[string]string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// New creates a PENDING task at the given element index.
func New(executionID, stepName string, stepType StepType, stepOrder int, input map[string]any, policy retry.Policy) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:            uuid.New().String(),
		ExecutionID:   executionID,
		StepName:      stepName,
		StepType:      stepType,
		StepOrder:     stepOrder,
		Status:        StatusPending,
		Input:         input,
		Attempt:       0,
		MaxAttempts:   policy.MaxAttempts,
		BackoffPolicy: policy,
		Priority:      PriorityNormal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CanRetry reports whether another attempt is permitted under the task's
// own backoff policy.
func (t *Task) CanRetry() bool {
	return retry.ShouldRetry(t.BackoffPolicy, t.Attempt)
}

// IsAcquirable reports spec §3's acquirability invariant: PENDING and
// either never scheduled for retry, or past the retry time.
func (t *Task) IsAcquirable(now time.Time) bool {
	if t.Status != StatusPending {
		return false
	}
	return t.NextRetryAt == nil || !t.NextRetryAt.After(now)
}

// IsOrphaned reports spec §3's orphan invariant: LOCKED whose lock
// timed out.
func (t *Task) IsOrphaned(now time.Time) bool {
	return t.Status == StatusLocked && t.LockTimeoutAt != nil && !t.LockTimeoutAt.After(now)
}
