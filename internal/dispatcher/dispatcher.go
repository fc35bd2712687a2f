// Package dispatcher turns a completed task into the next task(s) for an
// execution: sequential advance, parallel fan-out, branch evaluation, and
// the fan-in check that reconciles a parallel block's siblings (spec §4.5).
package dispatcher

import (
	"errors"
	"fmt"

	"github.com/flowforge/orchestrator/internal/task"
	"github.com/flowforge/orchestrator/internal/workflow"
)

// ErrStepNotFound is returned when a completed step name cannot be located
// in its workflow's element list — a corrupt task or a stale definition.
var ErrStepNotFound = errors.New("dispatcher: completed step not found in definition")

// ErrBranchKeyNotFound is returned when the branch input has neither a
// "result" nor a "branch" key. It is returned before the block's
// conditions or "otherwise" are consulted: per Open Question decision #1,
// a keyless map is never string-coerced.
var ErrBranchKeyNotFound = errors.New("dispatcher: no \"result\" or \"branch\" key in branch input")

// Advancement describes what the dispatcher decided to do after a step
// completed: either nothing further (the execution is done), or a set of
// new PENDING tasks to insert in the same transaction as the completion.
type Advancement struct {
	Done  bool // true when there is no next element; execution should complete
	Tasks []*task.Task
}

// NextElementAfter locates the element index immediately following the one
// that owns stepName, for step/parallel completions (not mid-branch
// advances, which are handled by nextBranchStep).
func NextElementAfter(defn *workflow.Definition, stepName string) (int, error) {
	idx, ok := elementIndexOf(defn, stepName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrStepNotFound, stepName)
	}
	return idx + 1, nil
}

func elementIndexOf(defn *workflow.Definition, stepName string) (int, bool) {
	for i, el := range defn.Elements {
		switch el.Kind {
		case workflow.ElementStep:
			if el.Step.Name == stepName {
				return i, true
			}
		case workflow.ElementParallel:
			for _, s := range el.Parallel.Steps {
				if s.Name == stepName {
					return i, true
				}
			}
		case workflow.ElementBranch:
			if branchContains(el.Branch, stepName) {
				return i, true
			}
		}
	}
	return -1, false
}

func branchContains(b *workflow.BranchBlock, stepName string) bool {
	for _, steps := range b.Conditions {
		for _, s := range steps {
			if s.Name == stepName {
				return true
			}
		}
	}
	for _, s := range b.Otherwise {
		if s.Name == stepName {
			return true
		}
	}
	return false
}

// ExtractBranchKey implements spec §4.5's extraction rule: look for
// "result" then "branch" in input and string-coerce the value found via
// fmt.Sprintf; a map with neither key is a dispatch error per Open
// Question decision #1 (no whole-map string coercion).
func ExtractBranchKey(input map[string]any) (string, error) {
	if v, ok := input["result"]; ok {
		return fmt.Sprintf("%v", v), nil
	}
	if v, ok := input["branch"]; ok {
		return fmt.Sprintf("%v", v), nil
	}
	return "", ErrBranchKeyNotFound
}

// SelectBranch matches key against the block's conditions, falling back to
// "otherwise". Returns the matched key (which may be the literal
// "otherwise") and the steps to dispatch from, or an error if neither
// matches.
func SelectBranch(b *workflow.BranchBlock, key string) (matchedKey string, steps []workflow.Step, err error) {
	if s, ok := b.Conditions[key]; ok {
		return key, s, nil
	}
	if b.Otherwise != nil {
		return "otherwise", b.Otherwise, nil
	}
	return "", nil, fmt.Errorf("dispatcher: no branch matched %q and no otherwise for block %q", key, b.Name)
}

// CreateFirstTask dispatches the workflow's element 0, the same logic
// Advance uses for any other element (spec §4.6's Trigger calls this).
func CreateFirstTask(defn *workflow.Definition, executionID string, input map[string]any) (*Advancement, error) {
	if len(defn.Elements) == 0 {
		return &Advancement{Done: true}, nil
	}
	return dispatchElement(defn, 0, executionID, input)
}

// Advance implements the core of spec §4.5: given the step that just
// completed and its output, decide the next element and materialize its
// task(s). Branch intra-block advancement (moving from one branch step to
// the next inside the same selected branch) is resolved here too, via
// nextBranchStep, before falling through to the element after the block.
func Advance(defn *workflow.Definition, executionID, completedStepName string, output map[string]any, branchKey string) (*Advancement, error) {
	if branchKey != "" {
		if adv, handled, err := nextBranchStep(defn, executionID, completedStepName, branchKey, output); handled {
			return adv, err
		}
	}

	nextIdx, err := NextElementAfter(defn, completedStepName)
	if err != nil {
		return nil, err
	}
	if nextIdx >= len(defn.Elements) {
		return &Advancement{Done: true}, nil
	}
	return dispatchElement(defn, nextIdx, executionID, output)
}

// nextBranchStep checks whether completedStepName is a non-final step
// inside the branch identified by branchKey; if so it dispatches the next
// step in that same branch's list, inheriting branch-key and using the
// block name as parallel-group (spec §4.5: "inheriting branch-key and
// parallel-group = block-name"). handled is false when completedStepName
// was the branch's last step (or branchKey doesn't resolve), signaling the
// caller to fall back to the post-block element.
func nextBranchStep(defn *workflow.Definition, executionID, completedStepName, branchKey string, output map[string]any) (adv *Advancement, handled bool, err error) {
	for _, el := range defn.Elements {
		if el.Kind != workflow.ElementBranch {
			continue
		}
		steps, ok := el.Branch.Conditions[branchKey]
		if branchKey == "otherwise" {
			steps, ok = el.Branch.Otherwise, el.Branch.Otherwise != nil
		}
		if !ok {
			continue
		}
		for i, s := range steps {
			if s.Name != completedStepName {
				continue
			}
			if i+1 >= len(steps) {
				return nil, false, nil // last step in branch: fall through
			}
			next := steps[i+1]
			elementIdx, _ := elementIndexOf(defn, el.Name())
			t := task.New(executionID, next.Name, task.StepBranch, elementIdx, output, next.RetryPolicy)
			t.BranchKey = branchKey
			t.ParallelGroup = el.Name()
			t.Priority = task.Priority(next.Priority)
			return &Advancement{Tasks: []*task.Task{t}}, true, nil
		}
	}
	return nil, false, nil
}

func dispatchElement(defn *workflow.Definition, elementIdx int, executionID string, input map[string]any) (*Advancement, error) {
	el := defn.Elements[elementIdx]

	switch el.Kind {
	case workflow.ElementStep:
		t := task.New(executionID, el.Step.Name, task.StepSequential, elementIdx, input, el.Step.RetryPolicy)
		t.Priority = task.Priority(el.Step.Priority)
		return &Advancement{Tasks: []*task.Task{t}}, nil

	case workflow.ElementParallel:
		tasks := make([]*task.Task, 0, len(el.Parallel.Steps))
		for _, s := range el.Parallel.Steps {
			t := task.New(executionID, s.Name, task.StepParallel, elementIdx, input, s.RetryPolicy)
			t.ParallelGroup = el.Parallel.Name
			t.Priority = task.Priority(s.Priority)
			tasks = append(tasks, t)
		}
		return &Advancement{Tasks: tasks}, nil

	case workflow.ElementBranch:
		key, err := ExtractBranchKey(input)
		if err != nil {
			return nil, fmt.Errorf("dispatch branch %q: %w", el.Branch.Name, err)
		}
		matchedKey, steps, err := SelectBranch(el.Branch, key)
		if err != nil {
			return nil, err
		}
		first := steps[0]
		t := task.New(executionID, first.Name, task.StepBranch, elementIdx, input, first.RetryPolicy)
		t.BranchKey = matchedKey
		t.ParallelGroup = el.Branch.Name
		t.Priority = task.Priority(first.Priority)
		return &Advancement{Tasks: []*task.Task{t}}, nil

	default:
		return nil, fmt.Errorf("dispatcher: element %d has unknown kind %q", elementIdx, el.Kind)
	}
}
