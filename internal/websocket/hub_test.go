package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transflow/api/internal/model"
)

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHubRoutesByBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)

	watcher := &Client{BatchID: "b-1", Send: make(chan []byte, 8)}
	other := &Client{BatchID: "b-2", Send: make(chan []byte, 8)}
	h.Register(watcher)
	h.Register(other)
	require.Eventually(t, func() bool { return h.Subscribers("b-1") == 1 }, time.Second, 5*time.Millisecond)

	h.BroadcastProgress(model.PhaseQA, "u-1", model.BatchProgress{BatchID: "b-1", Total: 2, Done: 1, Percent: 50})
	msg := receive(t, watcher)
	assert.Equal(t, model.WSMessageTypeProgress, msg["type"])
	assert.Equal(t, "u-1", msg["unitId"])

	h.BroadcastProgress(model.PhaseQA, "u-2", model.BatchProgress{BatchID: "b-1", Total: 2, Done: 1, Failed: 1, Percent: 100})
	assert.Equal(t, model.WSMessageTypeProgress, receive(t, watcher)["type"])
	assert.Equal(t, model.WSMessageTypeComplete, receive(t, watcher)["type"])

	h.BroadcastError("b-1", "u-3", "AI_ERROR", "model unavailable")
	assert.Equal(t, model.WSMessageTypeError, receive(t, watcher)["type"])

	select {
	case <-other.Send:
		t.Fatal("other batch received a message")
	default:
	}

	h.Unregister(watcher)
	require.Eventually(t, func() bool { return h.Subscribers("b-1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	c := &Client{BatchID: "b-1", Send: make(chan []byte, 1)}
	h.Register(c)
	cancel()
	<-done

	_, ok := <-c.Send
	assert.False(t, ok)
}
