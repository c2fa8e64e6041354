package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kongswap/kong-backend/internal/archive"
	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func record(userID uint32) archive.Record {
	return archive.Record{
		Request: ledger.Request{
			ID:      7,
			UserID:  userID,
			Payload: ledger.ClaimArgs{ClaimID: 3},
			Statuses: []ledger.Status{
				{Code: ledger.StatusStart},
				{Code: ledger.StatusSuccess},
			},
		},
		Transfers: []ledger.Transfer{},
		Claims:    []ledger.Claim{},
	}
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil, zap.NewNop().Sugar(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWebSocket)
	mux.HandleFunc("/sse", hub.HandleSSE)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func clientCount(h *Hub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func subscribed(h *Hub, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.isSubscribed(topic) {
			return true
		}
	}
	return false
}

func TestWebSocketReceivesUserTopic(t *testing.T) {
	hub, srv := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	uid := uint32(4)
	require.NoError(t, conn.WriteJSON(SubscriptionRequest{Type: "subscribe", UserID: &uid}))

	require.Eventually(t, func() bool { return subscribed(hub, "user:4") }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Write(context.Background(), record(4)))
	require.NoError(t, hub.Write(context.Background(), record(5)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "user:4", m.Topic)
	assert.Contains(t, string(m.Data), `"user_id":4`)
	assert.NotContains(t, string(raw), `"user_id":5`, "other users' requests are not delivered")
}

func TestSSEStreamsRequests(t *testing.T) {
	hub, srv := startHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse?topics=requests", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return clientCount(hub) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Write(ctx, record(1)))

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 1024)
	for !strings.Contains(string(buf), "request_update") {
		n, err := resp.Body.Read(chunk)
		require.NoError(t, err)
		buf = append(buf, chunk[:n]...)
	}
	assert.Contains(t, string(buf), "event: connected")
	assert.Contains(t, string(buf), `"request_id":7`)
}

func TestSSERejectsBadUserID(t *testing.T) {
	_, srv := startHub(t)
	resp, err := http.Get(srv.URL + "/sse?user_id=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWriteAfterShutdownIsNoop(t *testing.T) {
	hub := NewHub(nil, zap.NewNop().Sugar(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	for i := 0; i < 100; i++ {
		assert.NoError(t, hub.Write(context.Background(), record(1)))
	}
}
