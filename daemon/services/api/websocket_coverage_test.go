package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tech4242/mcphawk/daemon/domain"
	"github.com/tech4242/mcphawk/daemon/dto"
	"github.com/tech4242/mcphawk/daemon/store"
)

// newTestServerWithHub creates a Server with a running WSHub and returns a
// cancel function that stops its background goroutines.
func newTestServerWithHub(t *testing.T) (*Server, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hub := domain.NewEventBus(16)
	ctx := &domain.Context{Hub: hub}
	server := NewServer(ctx, st)
	server.StartSubscriptions()

	return server, server.cancelFunc
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return ws
}

func TestWebSocketConnection(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	ws := dialWS(t, ts)
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := ws.ReadMessage()
	if err == nil {
		t.Log("Unexpectedly received an initial message")
	}
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	ws := dialWS(t, ts)
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)

	server.wsHub.Broadcast(testRecord())

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read broadcast message: %v", err)
	}

	var rec dto.MessageRecord
	if err := json.Unmarshal(msg, &rec); err != nil {
		t.Fatalf("Failed to unmarshal record: %v", err)
	}
	if rec.LogID != "log-1" {
		t.Errorf("Expected log_id %q, got %q", "log-1", rec.LogID)
	}
}

func TestWebSocketMultipleBroadcasts(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	ws := dialWS(t, ts)
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)

	count := 5
	for range count {
		server.wsHub.Broadcast(testRecord())
	}

	received := 0
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for range count {
		_, _, err := ws.ReadMessage()
		if err != nil {
			t.Logf("Read stopped after %d messages: %v", received, err)
			break
		}
		received++
	}

	if received != count {
		t.Errorf("Expected %d messages, received %d", count, received)
	}
}

func TestWebSocketMultipleClients(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	const numClients = 3
	clients := make([]*websocket.Conn, numClients)
	for i := range numClients {
		clients[i] = dialWS(t, ts)
		defer clients[i].Close()
	}

	time.Sleep(100 * time.Millisecond)

	server.wsHub.Broadcast(testRecord())

	for i, ws := range clients {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := ws.ReadMessage()
		if err != nil {
			t.Errorf("Client %d failed to read: %v", i, err)
			continue
		}

		var rec dto.MessageRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			t.Errorf("Client %d: unmarshal failed: %v", i, err)
		}
	}
}

func TestWebSocketClientDisconnect(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	ws := dialWS(t, ts)

	time.Sleep(50 * time.Millisecond)
	if got := server.wsHub.ClientCount(); got != 1 {
		t.Errorf("Expected 1 registered client, got %d", got)
	}

	ws.Close()
	time.Sleep(200 * time.Millisecond)

	if got := server.wsHub.ClientCount(); got != 0 {
		t.Errorf("Expected 0 clients after disconnect, got %d", got)
	}
}

func TestWebSocketCloseAndReconnect(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	ws1 := dialWS(t, ts)
	time.Sleep(50 * time.Millisecond)
	ws1.Close()
	time.Sleep(100 * time.Millisecond)

	ws2 := dialWS(t, ts)
	defer ws2.Close()
	time.Sleep(50 * time.Millisecond)

	server.wsHub.Broadcast(testRecord())

	ws2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws2.ReadMessage()
	if err != nil {
		t.Fatalf("Reconnected client failed to receive broadcast: %v", err)
	}
}

func TestWebSocketWritePumpCloseMessage(t *testing.T) {
	server, cancel := newTestServerWithHub(t)

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	ws := dialWS(t, ts)
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)

	// Cancelling stops the hub, which closes every client send channel and
	// triggers writePump to send a CloseMessage.
	cancel()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if err == nil {
		t.Log("Received a message after server shutdown (unexpected but not fatal)")
	}
}

func TestWebSocketReadPumpMessage(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	ws := dialWS(t, ts)
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"test"}`)); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"test2"}`)); err != nil {
		t.Fatalf("Failed to write second message: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
}

func TestWebSocketConcurrentBroadcasts(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	ws := dialWS(t, ts)
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)

	var wg sync.WaitGroup
	const goroutines = 5
	const msgsPerGoroutine = 3

	for g := range goroutines {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for range msgsPerGoroutine {
				server.wsHub.Broadcast(testRecord())
			}
		}(g)
	}
	wg.Wait()

	totalExpected := goroutines * msgsPerGoroutine
	received := 0
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for range totalExpected {
		_, _, err := ws.ReadMessage()
		if err != nil {
			break
		}
		received++
	}

	if received != totalExpected {
		t.Errorf("Expected %d messages from concurrent broadcast, got %d", totalExpected, received)
	}
}

func TestWebSocketUpgradeFailsOnNonGET(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/ws", "application/json", nil)
	if err != nil {
		t.Fatalf("POST request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusSwitchingProtocols {
		t.Error("POST should not upgrade to WebSocket")
	}
}

func TestWebSocketBroadcastAfterClientClose(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	ws := dialWS(t, ts)

	time.Sleep(50 * time.Millisecond)
	ws.Close()
	time.Sleep(100 * time.Millisecond)

	server.wsHub.Broadcast(testRecord())
	time.Sleep(50 * time.Millisecond)
}

func TestWebSocketGracefulCloseFromClient(t *testing.T) {
	server, cancel := newTestServerWithHub(t)
	defer cancel()

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	ws := dialWS(t, ts)
	time.Sleep(50 * time.Millisecond)

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := ws.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		t.Logf("Error writing close message: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if got := server.wsHub.ClientCount(); got != 0 {
		t.Errorf("Expected 0 clients after graceful close, got %d", got)
	}
}
