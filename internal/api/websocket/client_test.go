package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClient_SubscribeUnsubscribe(t *testing.T) {
	c := newTestClient()

	// An empty watch list means "every execution".
	assert.True(t, c.IsSubscribed("exec-1"))

	c.Subscribe("exec-1")
	assert.True(t, c.IsSubscribed("exec-1"))
	assert.False(t, c.IsSubscribed("exec-2"))

	c.Unsubscribe("exec-1")
	assert.True(t, c.IsSubscribed("exec-1"))
	assert.True(t, c.IsSubscribed("exec-2"))
}

func TestClient_HandleMessage_Subscribe(t *testing.T) {
	c := newTestClient()

	c.handleMessage([]byte(`{"action":"subscribe","execution_id":"exec-1"}`))
	assert.True(t, c.subscriptions["exec-1"])
}

func TestClient_HandleMessage_Unsubscribe(t *testing.T) {
	c := newTestClient()
	c.subscriptions["exec-1"] = true

	c.handleMessage([]byte(`{"action":"unsubscribe","execution_id":"exec-1"}`))
	assert.False(t, c.subscriptions["exec-1"])
}

func TestClient_HandleMessage_Unparseable(t *testing.T) {
	c := newTestClient()

	c.handleMessage([]byte("not json"))
	assert.Empty(t, c.subscriptions)
}

func TestClient_HandleMessage_UnknownAction(t *testing.T) {
	c := newTestClient()

	c.handleMessage([]byte(`{"action":"noop","execution_id":"exec-1"}`))
	assert.Empty(t, c.subscriptions)
}
