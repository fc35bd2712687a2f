package deadletter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptRecord_JSONRoundTrip(t *testing.T) {
	records := []AttemptRecord{
		{Attempt: 1, Error: "connection refused", Timestamp: time.Now().UTC()},
		{Attempt: 2, Error: "timeout", Timestamp: time.Now().UTC()},
	}

	data, err := json.Marshal(records)
	require.NoError(t, err)

	var restored []AttemptRecord
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Len(t, restored, 2)
	assert.Equal(t, "connection refused", restored[0].Error)
	assert.Equal(t, 2, restored[1].Attempt)
}

func TestEntry_DefaultsNotReprocessed(t *testing.T) {
	e := &Entry{ID: "dl-1", TaskID: "task-1"}
	assert.False(t, e.Reprocessed)
	assert.Nil(t, e.ReprocessedAt)
}
