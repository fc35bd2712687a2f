// Package workflow holds the immutable workflow definition types, the
// process-resident registry keyed by (name, version), and the validator
// that enforces spec §3's structural invariants.
package workflow

import (
	"time"

	"github.com/flowforge/orchestrator/internal/retry"
)

// ElementKind distinguishes the three element shapes a workflow can hold.
type ElementKind string

const (
	ElementStep     ElementKind = "STEP"
	ElementParallel ElementKind = "PARALLEL"
	ElementBranch   ElementKind = "BRANCH"
)

// Step is a single unit of work: a handler reference plus its own retry
// policy, optional timeout, and acquisition priority.
type Step struct {
	Name        string
	HandlerRef  string
	RetryPolicy retry.Policy
	Timeout     time.Duration // zero means the worker's 5-minute default
	Priority    int
}

// ParallelBlock fans out into N sibling steps that must all reach a
// terminal status before the post-block element dispatches.
type ParallelBlock struct {
	Name  string
	Steps []Step
}

// BranchBlock dispatches to exactly one set of steps, selected by
// evaluating the condition keys against the completed step's output.
// Otherwise is optional; with a nil Otherwise, a key that matches no
// condition is a dispatch-time error. Validate requires Otherwise only on a
// branch block at element 0 (see validator.go).
type BranchBlock struct {
	Name       string
	Conditions map[string][]Step
	Otherwise  []Step
}

// Element is one position in a workflow's ordered element list. Exactly
// one of Step, Parallel, Branch is populated, selected by Kind.
type Element struct {
	Kind     ElementKind
	Step     *Step
	Parallel *ParallelBlock
	Branch   *BranchBlock
}

// Name returns the element's identifying name regardless of kind.
func (e Element) Name() string {
	switch e.Kind {
	case ElementStep:
		return e.Step.Name
	case ElementParallel:
		return e.Parallel.Name
	case ElementBranch:
		return e.Branch.Name
	default:
		return ""
	}
}

// Definition is one immutable, process-resident workflow: an ordered list
// of elements identified by (Name, Version).
type Definition struct {
	Name        string
	Version     int
	Description string
	Elements    []Element
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StepAt returns the sub-step belonging to element index idx with the
// given step name, searching within parallel/branch blocks as needed.
// Used by the dispatcher to resolve a completed task back to its
// definition-time Step (for its retry policy, handler ref, etc.).
func (d *Definition) StepAt(elementIdx int, stepName string) (*Step, bool) {
	if elementIdx < 0 || elementIdx >= len(d.Elements) {
		return nil, false
	}
	el := d.Elements[elementIdx]
	switch el.Kind {
	case ElementStep:
		if el.Step.Name == stepName {
			return el.Step, true
		}
	case ElementParallel:
		for i := range el.Parallel.Steps {
			if el.Parallel.Steps[i].Name == stepName {
				return &el.Parallel.Steps[i], true
			}
		}
	case ElementBranch:
		for _, steps := range el.Branch.Conditions {
			for i := range steps {
				if steps[i].Name == stepName {
					return &steps[i], true
				}
			}
		}
		for i := range el.Branch.Otherwise {
			if el.Branch.Otherwise[i].Name == stepName {
				return &el.Branch.Otherwise[i], true
			}
		}
	}
	return nil, false
}
