package api

import (
	"context"
	"testing"
	"time"

	"github.com/tech4242/mcphawk/daemon/dto"
)

func testRecord() *dto.MessageRecord {
	return &dto.MessageRecord{
		LogID:         "log-1",
		Timestamp:     time.Now(),
		SrcIP:         "10.0.0.1",
		DstIP:         "10.0.0.2",
		Direction:     dto.DirectionOutgoing,
		TransportType: dto.TransportStdio,
		Message:       `{"jsonrpc":"2.0","method":"ping","id":1}`,
	}
}

func TestNewWSHub(t *testing.T) {
	hub := NewWSHub()
	if hub.clients == nil || hub.broadcast == nil || hub.register == nil || hub.unregister == nil {
		t.Fatal("NewWSHub returned a hub with an uninitialized field")
	}
}

func TestWSHubStopsOnContextCancellation(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("hub did not stop after context cancellation")
	}
}

func TestWSHubRegisterAndBroadcast(t *testing.T) {
	hub := NewWSHub()
	go hub.Run(t.Context())
	time.Sleep(10 * time.Millisecond)

	client := &WSClient{hub: hub, send: make(chan *dto.MessageRecord, 8)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	rec := testRecord()
	hub.Broadcast(rec)

	select {
	case got := <-client.send:
		if got.LogID != rec.LogID {
			t.Errorf("got log_id %q, want %q", got.LogID, rec.LogID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("did not receive broadcast record")
	}
}

func TestWSHubMultipleClientsAllReceive(t *testing.T) {
	hub := NewWSHub()
	go hub.Run(t.Context())
	time.Sleep(10 * time.Millisecond)

	const n = 5
	sends := make([]chan *dto.MessageRecord, n)
	for i := range n {
		sends[i] = make(chan *dto.MessageRecord, 8)
		hub.register <- &WSClient{hub: hub, send: sends[i]}
	}
	time.Sleep(20 * time.Millisecond)

	hub.Broadcast(testRecord())

	for i, ch := range sends {
		select {
		case <-ch:
		case <-time.After(500 * time.Millisecond):
			t.Errorf("client %d did not receive broadcast", i)
		}
	}
}

func TestWSHubUnregisterClosesSendChannel(t *testing.T) {
	hub := NewWSHub()
	go hub.Run(t.Context())
	time.Sleep(10 * time.Millisecond)

	client := &WSClient{hub: hub, send: make(chan *dto.MessageRecord, 8)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	_, open := <-client.send
	if open {
		t.Error("expected send channel to be closed after unregister")
	}
}

func TestWSHubClosesClientsOnShutdown(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	client := &WSClient{hub: hub, send: make(chan *dto.MessageRecord, 8)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("hub did not stop")
	}

	_, open := <-client.send
	if open {
		t.Error("expected client channel to be closed on shutdown")
	}
}
