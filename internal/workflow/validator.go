package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrNoElements         = errors.New("workflow: must have at least one element")
	ErrInvalidVersion     = errors.New("workflow: version must be >= 1")
	ErrEmptyBlock         = errors.New("workflow: block must contain at least one step")
	ErrDuplicateStepName  = errors.New("workflow: duplicate step name")
	ErrBranchFirstNoOther = errors.New("workflow: a branch block used as the first element requires \"otherwise\"")
)

// Validate enforces spec §3's structural invariants on a definition before
// it is accepted into the registry: unique step names across the whole
// workflow, every block non-empty, version >= 1, at least one element, and
// (per Open Question decision #4) a leading branch block must carry
// "otherwise" so every trigger has somewhere to go.
func Validate(def *Definition) error {
	if def.Version < 1 {
		return ErrInvalidVersion
	}
	if len(def.Elements) == 0 {
		return ErrNoElements
	}

	seen := make(map[string]struct{})
	addName := func(name string) error {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateStepName, name)
		}
		seen[name] = struct{}{}
		return nil
	}

	for i, el := range def.Elements {
		switch el.Kind {
		case ElementStep:
			if el.Step == nil {
				return fmt.Errorf("workflow: element %d declared as STEP has no step", i)
			}
			if err := addName(el.Step.Name); err != nil {
				return err
			}
		case ElementParallel:
			if el.Parallel == nil || len(el.Parallel.Steps) == 0 {
				return fmt.Errorf("%w: parallel block %q", ErrEmptyBlock, el.Name())
			}
			for _, s := range el.Parallel.Steps {
				if err := addName(s.Name); err != nil {
					return err
				}
			}
		case ElementBranch:
			if el.Branch == nil || len(el.Branch.Conditions) == 0 {
				return fmt.Errorf("%w: branch block %q", ErrEmptyBlock, el.Name())
			}
			if i == 0 && el.Branch.Otherwise == nil {
				return fmt.Errorf("%w: %q", ErrBranchFirstNoOther, el.Name())
			}
			for _, steps := range el.Branch.Conditions {
				if len(steps) == 0 {
					return fmt.Errorf("%w: branch condition in %q", ErrEmptyBlock, el.Name())
				}
				for _, s := range steps {
					if err := addName(s.Name); err != nil {
						return err
					}
				}
			}
			for _, s := range el.Branch.Otherwise {
				if err := addName(s.Name); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("workflow: element %d has unknown kind %q", i, el.Kind)
		}
	}

	return nil
}
