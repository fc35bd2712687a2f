package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/internal/retry"
	"github.com/flowforge/orchestrator/internal/task"
	"github.com/flowforge/orchestrator/internal/workflow"
)

func testStep(name string) workflow.Step {
	return workflow.Step{Name: name, HandlerRef: name, RetryPolicy: retry.DefaultPolicy()}
}

func sequentialDefn() *workflow.Definition {
	return &workflow.Definition{
		Name:    "order-fulfillment",
		Version: 1,
		Elements: []workflow.Element{
			{Kind: workflow.ElementStep, Step: &workflow.Step{Name: "charge", RetryPolicy: retry.DefaultPolicy()}},
			{Kind: workflow.ElementStep, Step: &workflow.Step{Name: "ship", RetryPolicy: retry.DefaultPolicy()}},
		},
	}
}

func TestCreateFirstTask_Sequential(t *testing.T) {
	defn := sequentialDefn()
	adv, err := CreateFirstTask(defn, "exec-1", map[string]any{"order_id": "o1"})
	require.NoError(t, err)
	require.Len(t, adv.Tasks, 1)
	assert.Equal(t, "charge", adv.Tasks[0].StepName)
	assert.Equal(t, task.StepSequential, adv.Tasks[0].StepType)
}

func TestAdvance_SequentialNext(t *testing.T) {
	defn := sequentialDefn()
	adv, err := Advance(defn, "exec-1", "charge", map[string]any{"charged": true}, "")
	require.NoError(t, err)
	require.Len(t, adv.Tasks, 1)
	assert.Equal(t, "ship", adv.Tasks[0].StepName)
}

func TestAdvance_LastStepDone(t *testing.T) {
	defn := sequentialDefn()
	adv, err := Advance(defn, "exec-1", "ship", map[string]any{}, "")
	require.NoError(t, err)
	assert.True(t, adv.Done)
	assert.Empty(t, adv.Tasks)
}

func TestAdvance_StepNotFound(t *testing.T) {
	defn := sequentialDefn()
	_, err := Advance(defn, "exec-1", "nonexistent", nil, "")
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func parallelDefn() *workflow.Definition {
	return &workflow.Definition{
		Name:    "order-fulfillment",
		Version: 1,
		Elements: []workflow.Element{
			{Kind: workflow.ElementStep, Step: &workflow.Step{Name: "charge", RetryPolicy: retry.DefaultPolicy()}},
			{Kind: workflow.ElementParallel, Parallel: &workflow.ParallelBlock{
				Name:  "notify",
				Steps: []workflow.Step{testStep("email"), testStep("sms")},
			}},
			{Kind: workflow.ElementStep, Step: &workflow.Step{Name: "archive", RetryPolicy: retry.DefaultPolicy()}},
		},
	}
}

func TestAdvance_FanOut(t *testing.T) {
	defn := parallelDefn()
	adv, err := Advance(defn, "exec-1", "charge", map[string]any{"charged": true}, "")
	require.NoError(t, err)
	require.Len(t, adv.Tasks, 2)
	for _, tk := range adv.Tasks {
		assert.Equal(t, "notify", tk.ParallelGroup)
		assert.Equal(t, task.StepParallel, tk.StepType)
	}
}

func TestAdvance_PostBlockElement(t *testing.T) {
	defn := parallelDefn()
	adv, err := Advance(defn, "exec-1", "email", map[string]any{}, "")
	require.NoError(t, err)
	require.Len(t, adv.Tasks, 1)
	assert.Equal(t, "archive", adv.Tasks[0].StepName)
}

func branchDefn() *workflow.Definition {
	return &workflow.Definition{
		Name:    "order-fulfillment",
		Version: 1,
		Elements: []workflow.Element{
			{Kind: workflow.ElementStep, Step: &workflow.Step{Name: "charge", RetryPolicy: retry.DefaultPolicy()}},
			{Kind: workflow.ElementBranch, Branch: &workflow.BranchBlock{
				Name: "decide",
				Conditions: map[string][]workflow.Step{
					"approved": {testStep("ship"), testStep("notify_shipped")},
				},
				Otherwise: []workflow.Step{testStep("reject")},
			}},
			{Kind: workflow.ElementStep, Step: &workflow.Step{Name: "archive", RetryPolicy: retry.DefaultPolicy()}},
		},
	}
}

func TestAdvance_BranchMatched(t *testing.T) {
	defn := branchDefn()
	adv, err := Advance(defn, "exec-1", "charge", map[string]any{"result": "approved"}, "")
	require.NoError(t, err)
	require.Len(t, adv.Tasks, 1)
	assert.Equal(t, "ship", adv.Tasks[0].StepName)
	assert.Equal(t, "approved", adv.Tasks[0].BranchKey)
}

func TestAdvance_BranchOtherwise(t *testing.T) {
	defn := branchDefn()
	adv, err := Advance(defn, "exec-1", "charge", map[string]any{"result": "rejected"}, "")
	require.NoError(t, err)
	require.Len(t, adv.Tasks, 1)
	assert.Equal(t, "reject", adv.Tasks[0].StepName)
	assert.Equal(t, "otherwise", adv.Tasks[0].BranchKey)
}

func TestAdvance_BranchIntraStep(t *testing.T) {
	defn := branchDefn()
	adv, err := Advance(defn, "exec-1", "ship", map[string]any{}, "approved")
	require.NoError(t, err)
	require.Len(t, adv.Tasks, 1)
	assert.Equal(t, "notify_shipped", adv.Tasks[0].StepName)
	assert.Equal(t, "approved", adv.Tasks[0].BranchKey)
}

func TestAdvance_BranchLastStepFallsThrough(t *testing.T) {
	defn := branchDefn()
	adv, err := Advance(defn, "exec-1", "notify_shipped", map[string]any{}, "approved")
	require.NoError(t, err)
	require.Len(t, adv.Tasks, 1)
	assert.Equal(t, "archive", adv.Tasks[0].StepName)
}

func TestExtractBranchKey_Result(t *testing.T) {
	key, err := ExtractBranchKey(map[string]any{"result": "approved"})
	require.NoError(t, err)
	assert.Equal(t, "approved", key)
}

func TestExtractBranchKey_Branch(t *testing.T) {
	key, err := ExtractBranchKey(map[string]any{"branch": "rejected"})
	require.NoError(t, err)
	assert.Equal(t, "rejected", key)
}

func TestExtractBranchKey_NoKeys(t *testing.T) {
	_, err := ExtractBranchKey(map[string]any{"other": "x"})
	assert.ErrorIs(t, err, ErrBranchKeyNotFound)
}

func TestSelectBranch_NoMatchNoOtherwise(t *testing.T) {
	b := &workflow.BranchBlock{Name: "decide", Conditions: map[string][]workflow.Step{"approved": {testStep("ship")}}}
	_, _, err := SelectBranch(b, "unknown")
	assert.Error(t, err)
}
