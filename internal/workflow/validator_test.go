package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowforge/orchestrator/internal/retry"
)

func step(name string) Step {
	return Step{Name: name, HandlerRef: name, RetryPolicy: retry.DefaultPolicy()}
}

func TestValidate_Valid(t *testing.T) {
	def := &Definition{
		Name:    "order-fulfillment",
		Version: 1,
		Elements: []Element{
			{Kind: ElementStep, Step: ptr(step("charge"))},
			{Kind: ElementParallel, Parallel: &ParallelBlock{Name: "notify", Steps: []Step{step("email"), step("sms")}}},
		},
	}

	assert.NoError(t, Validate(def))
}

func TestValidate_NoElements(t *testing.T) {
	def := &Definition{Name: "empty", Version: 1}
	assert.ErrorIs(t, Validate(def), ErrNoElements)
}

func TestValidate_InvalidVersion(t *testing.T) {
	def := &Definition{
		Name:     "x",
		Version:  0,
		Elements: []Element{{Kind: ElementStep, Step: ptr(step("a"))}},
	}
	assert.ErrorIs(t, Validate(def), ErrInvalidVersion)
}

func TestValidate_DuplicateStepName(t *testing.T) {
	def := &Definition{
		Name:    "dup",
		Version: 1,
		Elements: []Element{
			{Kind: ElementStep, Step: ptr(step("charge"))},
			{Kind: ElementStep, Step: ptr(step("charge"))},
		},
	}
	assert.ErrorIs(t, Validate(def), ErrDuplicateStepName)
}

func TestValidate_EmptyParallelBlock(t *testing.T) {
	def := &Definition{
		Name:    "x",
		Version: 1,
		Elements: []Element{
			{Kind: ElementParallel, Parallel: &ParallelBlock{Name: "notify"}},
		},
	}
	assert.ErrorIs(t, Validate(def), ErrEmptyBlock)
}

func TestValidate_BranchFirstRequiresOtherwise(t *testing.T) {
	def := &Definition{
		Name:    "x",
		Version: 1,
		Elements: []Element{
			{Kind: ElementBranch, Branch: &BranchBlock{
				Name:       "decide",
				Conditions: map[string][]Step{"approved": {step("ship")}},
			}},
		},
	}
	assert.ErrorIs(t, Validate(def), ErrBranchFirstNoOther)
}

func TestValidate_BranchFirstWithOtherwiseOK(t *testing.T) {
	def := &Definition{
		Name:    "x",
		Version: 1,
		Elements: []Element{
			{Kind: ElementBranch, Branch: &BranchBlock{
				Name:       "decide",
				Conditions: map[string][]Step{"approved": {step("ship")}},
				Otherwise:  []Step{step("reject")},
			}},
		},
	}
	assert.NoError(t, Validate(def))
}

func TestValidate_BranchNotFirstNoOtherwiseOK(t *testing.T) {
	def := &Definition{
		Name:    "x",
		Version: 1,
		Elements: []Element{
			{Kind: ElementStep, Step: ptr(step("intake"))},
			{Kind: ElementBranch, Branch: &BranchBlock{
				Name:       "decide",
				Conditions: map[string][]Step{"approved": {step("ship")}},
			}},
		},
	}
	assert.NoError(t, Validate(def))
}

func ptr(s Step) *Step { return &s }
