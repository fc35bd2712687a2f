package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisPubSub(t *testing.T) {
	// Construction with a nil client should succeed; actual Publish/Subscribe
	// calls would fail, but that's only reachable with Redis configured.
	pubsub := NewRedisPubSub(nil)

	assert.NotNil(t, pubsub)
	assert.Nil(t, pubsub.client)
	assert.NotNil(t, pubsub.subscribers)
	assert.Len(t, pubsub.subscribers, 0)
}

func TestRedisPubSub_channelName(t *testing.T) {
	pubsub := NewRedisPubSub(nil)

	tests := []struct {
		eventType Type
		expected  string
	}{
		{ExecutionTriggered, "orchestrator:events:execution.triggered"},
		{ExecutionCompleted, "orchestrator:events:execution.completed"},
		{ExecutionFailed, "orchestrator:events:execution.failed"},
		{ExecutionCancelled, "orchestrator:events:execution.cancelled"},
		{ExecutionTimedOut, "orchestrator:events:execution.timed_out"},
		{TaskDispatched, "orchestrator:events:task.dispatched"},
		{TaskCompleted, "orchestrator:events:task.completed"},
		{TaskFailed, "orchestrator:events:task.failed"},
		{TaskDeadLettered, "orchestrator:events:task.dead_lettered"},
	}

	for _, tc := range tests {
		t.Run(string(tc.eventType), func(t *testing.T) {
			channel := pubsub.channelName(tc.eventType)
			assert.Equal(t, tc.expected, channel)
		})
	}
}

func TestRedisPubSub_Close_EmptySubscribers(t *testing.T) {
	pubsub := NewRedisPubSub(nil)

	err := pubsub.Close()
	assert.NoError(t, err)
	assert.Len(t, pubsub.subscribers, 0)
}

func TestChannelPrefix(t *testing.T) {
	assert.Equal(t, "orchestrator:events:", channelPrefix)
}
