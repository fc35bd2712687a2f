package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	event := New(ExecutionTriggered, "exec-1", map[string]interface{}{"workflow": "order-fulfillment"})

	assert.Equal(t, ExecutionTriggered, event.Type)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "order-fulfillment", event.Data["workflow"])
}

func TestEvent_ToJSON_FromJSON_RoundTrip(t *testing.T) {
	original := New(ExecutionTimedOut, "exec-2", map[string]interface{}{"step": "ship"})

	data, err := original.ToJSON()
	require.NoError(t, err)

	decoded, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.ExecutionID, decoded.ExecutionID)
	assert.Equal(t, original.Data["step"], decoded.Data["step"])
	assert.WithinDuration(t, original.Timestamp, decoded.Timestamp, 0)
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		eventType Type
		expected  string
	}{
		{ExecutionTriggered, "execution.triggered"},
		{ExecutionCompleted, "execution.completed"},
		{ExecutionFailed, "execution.failed"},
		{ExecutionCancelled, "execution.cancelled"},
		{ExecutionTimedOut, "execution.timed_out"},
		{TaskDispatched, "task.dispatched"},
		{TaskCompleted, "task.completed"},
		{TaskFailed, "task.failed"},
		{TaskDeadLettered, "task.dead_lettered"},
	}

	for _, tc := range tests {
		t.Run(string(tc.eventType), func(t *testing.T) {
			assert.Equal(t, tc.expected, string(tc.eventType))
		})
	}
}
