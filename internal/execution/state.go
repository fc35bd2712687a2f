package execution

import (
	"errors"
	"time"
)

var (
	ErrInvalidTransition   = errors.New("invalid execution state transition")
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrExecutionExists     = errors.New("execution already exists")
	ErrIdempotencyConflict = errors.New("idempotency key already bound to a different execution")
)

// ValidTransitions encodes spec §4.4's table exactly: terminal states are
// absorbing, PENDING can only move to RUNNING or CANCELLED, and RUNNING is
// the only state with more than one terminal exit.
var ValidTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// CanTransitionTo reports whether s -> target is an allowed transition.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// StateMachine guards transitions for a single Execution.
type StateMachine struct {
	execution *Execution
}

// NewStateMachine creates a state machine bound to the given execution.
func NewStateMachine(e *Execution) *StateMachine {
	return &StateMachine{execution: e}
}

// Transition attempts s -> target, stamping startedAt/completedAt per
// spec §3's invariants. An invalid transition is a fatal programming error
// (spec §4.4), never a recoverable user condition — callers must not retry it.
func (sm *StateMachine) Transition(target Status) error {
	if !sm.execution.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	sm.execution.Status = target
	sm.execution.UpdatedAt = now
	sm.execution.Version++

	switch target {
	case StatusRunning:
		if sm.execution.StartedAt == nil {
			sm.execution.StartedAt = &now
		}
	default:
		if target.IsTerminal() && sm.execution.CompletedAt == nil {
			sm.execution.CompletedAt = &now
		}
	}

	return nil
}

// Start transitions PENDING -> RUNNING.
func (sm *StateMachine) Start() error {
	return sm.Transition(StatusRunning)
}

// Complete transitions RUNNING -> COMPLETED, recording the final output.
func (sm *StateMachine) Complete(output map[string]any) error {
	if err := sm.Transition(StatusCompleted); err != nil {
		return err
	}
	sm.execution.Output = output
	return nil
}

// Fail transitions RUNNING -> FAILED, recording the error string.
func (sm *StateMachine) Fail(errMsg string) error {
	if err := sm.Transition(StatusFailed); err != nil {
		return err
	}
	sm.execution.Error = errMsg
	return nil
}

// Cancel transitions PENDING|RUNNING -> CANCELLED. Idempotent: a second
// call on an already-terminal execution returns ErrInvalidTransition, which
// callers at the engine boundary treat as a benign no-op (spec §8:
// "Idempotent cancel").
func (sm *StateMachine) Cancel() error {
	return sm.Transition(StatusCancelled)
}

// TimeOut transitions RUNNING -> TIMED_OUT.
func (sm *StateMachine) TimeOut() error {
	return sm.Transition(StatusTimedOut)
}
