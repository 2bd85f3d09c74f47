package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tech4242/mcphawk/daemon/constants"
	"github.com/tech4242/mcphawk/daemon/dto"
	"github.com/tech4242/mcphawk/daemon/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool {
		return true // dashboard is a local tool, CORS fully open (spec §4.9)
	},
}

// WSHub fans out captured records to every connected subscription endpoint
// client, one record per push (spec §4.9).
type WSHub struct {
	clients     map[*WSClient]bool
	broadcast   chan *dto.MessageRecord
	register    chan *WSClient
	unregister  chan *WSClient
	clientCount atomic.Int64 // mirrors len(clients) for lock-free reads from handleMetrics
}

// WSClient is a single subscription endpoint connection.
type WSClient struct {
	hub  *WSHub
	conn *websocket.Conn
	send chan *dto.MessageRecord
}

// NewWSHub creates a hub ready to accept client connections.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan *dto.MessageRecord, constants.WSBufferSize),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("websocket hub stopping")
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.clientCount.Store(0)
			return

		case client := <-h.register:
			h.clients[client] = true
			h.clientCount.Store(int64(len(h.clients)))
			logger.Debug("websocket client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.clientCount.Store(int64(len(h.clients)))
				close(client.send)
				logger.Debug("websocket client disconnected")
			}

		case rec := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- rec:
				default:
					close(client.send)
					delete(h.clients, client)
					h.clientCount.Store(int64(len(h.clients)))
				}
			}
		}
	}
}

// Broadcast pushes rec to every connected subscriber.
func (h *WSHub) Broadcast(rec *dto.MessageRecord) {
	h.broadcast <- rec
}

// ClientCount reports how many clients are currently connected, safe to
// call from any goroutine.
func (h *WSHub) ClientCount() int {
	return int(h.clientCount.Load())
}

// handleWebSocket upgrades the request to a persistent subscription
// endpoint, pushing one JSON record per captured message and a
// {"type":"ping"} frame on 30s idle (spec §4.9, §6).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade error: %v", err)
		return
	}

	client := &WSClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan *dto.MessageRecord, constants.WSBufferSize),
	}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(time.Duration(constants.WSPingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case rec, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(rec); err != nil {
				return
			}
			ticker.Reset(time.Duration(constants.WSPingInterval) * time.Second)
		case <-ticker.C:
			if err := c.conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
				return
			}
		}
	}
}

// readPump only drains and discards client frames to detect disconnects;
// the subscription endpoint is a one-way server-push stream.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
