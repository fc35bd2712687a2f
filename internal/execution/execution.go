// Package execution holds the Execution entity and the state machine that
// guards its status transitions (spec §3, §4.4).
package execution

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a workflow execution.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

func ParseStatus(s string) Status {
	switch s {
	case "pending":
		return StatusPending
	case "running":
		return StatusRunning
	case "completed":
		return StatusCompleted
	case "failed":
		return StatusFailed
	case "cancelled":
		return StatusCancelled
	case "timed_out":
		return StatusTimedOut
	default:
		return StatusPending
	}
}

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled || s == StatusTimedOut
}

// Execution is one run of a triggered workflow.
type Execution struct {
	ID              string
	WorkflowName    string
	WorkflowVersion int
	Status          Status
	Input           map[string]any
	Output          map[string]any
	Error           string
	CurrentStep     string
	IdempotencyKey  string
	TimeoutAt       *time.Time
	CallbackURL     string
	CallbackStatus  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Version         int64
}

// New creates a PENDING execution ready for the dispatcher's first dispatch.
func New(workflowName string, workflowVersion int, input map[string]any, idempotencyKey string) *Execution {
	now := time.Now().UTC()
	return &Execution{
		ID:              uuid.New().String(),
		WorkflowName:    workflowName,
		WorkflowVersion: workflowVersion,
		Status:          StatusPending,
		Input:           input,
		IdempotencyKey:  idempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
}
