package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polycopy/internal/store/memory"
)

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_RelaysBusMessages(t *testing.T) {
	bus := memory.NewBus()
	hub := NewHub(bus, Config{
		Channels: []string{"copy:executions", "copy:positions"},
		Status:   func() any { return map[string]string{"mode": "paper"} },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(hubHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readEnvelope(t, conn)
	assert.Equal(t, "status", status.Channel)
	assert.JSONEq(t, `{"mode":"paper"}`, string(status.Payload))

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"copy:positions"}}))
	require.Eventually(t, func() bool {
		for c := range hub.snapshot() {
			if c.isSubscribed("copy:positions") {
				return false
			}
		}
		return hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "copy:positions", []byte(`{"skip":true}`)))
	require.NoError(t, bus.Publish(ctx, "copy:executions", []byte(`{"trade_id":"t1"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, "copy:executions", env.Channel)
	assert.JSONEq(t, `{"trade_id":"t1"}`, string(env.Payload))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
}

func hubHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}

// snapshot copies the client set.
func (h *Hub) snapshot() map[*client]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[*client]bool, len(h.clients))
	for c := range h.clients {
		out[c] = true
	}
	return out
}
