// Package tunnel provides the SOCKS-speaking relay that carries the codec
// over TCP, plus a WebSocket admin feed broadcasting relay and codec
// telemetry to connected observers.
//
// ARCHITECTURAL RULE: the admin hub is agnostic to codec internals. It only
// knows how to route already-built Message envelopes; codec/store code
// publishes events, never reaches into the client set directly.
package tunnel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/cylance/MarkovObfuscate/internal/platform/logger"
	"github.com/cylance/MarkovObfuscate/internal/platform/metrics"
)

// MessageType defines the category of admin feed messages.
type MessageType string

const (
	MsgTypeEncode      MessageType = "ENCODE"
	MsgTypeDecode      MessageType = "DECODE"
	MsgTypeTunnelOpen  MessageType = "TUNNEL_OPEN"
	MsgTypeTunnelClose MessageType = "TUNNEL_CLOSE"
	MsgTypeError       MessageType = "ERROR"
	MsgTypePing        MessageType = "PING"
	MsgTypePong        MessageType = "PONG"
)

// Message is the standard admin feed message envelope.
type Message struct {
	Type      MessageType            `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// AdminClient represents one connected admin-feed observer.
type AdminClient struct {
	ID     string
	Send   chan []byte
	IsAuth bool
}

// Hub manages all admin feed WebSocket connections.
type Hub struct {
	clients    map[string]*AdminClient
	register   chan *AdminClient
	unregister chan *AdminClient
	broadcast  chan Message
	mu         sync.RWMutex
	logger     *logger.Logger
}

// NewHub creates a new admin feed hub with a default-sized broadcast buffer.
func NewHub(log *logger.Logger) *Hub {
	return NewHubWithBuffer(log, 256)
}

// NewHubWithBuffer creates a new admin feed hub whose broadcast channel is
// sized bufferSize, as recommended by platform/config's AdminBroadcastBuffer
// tuning parameter.
func NewHubWithBuffer(log *logger.Logger, bufferSize int) *Hub {
	return &Hub{
		clients:    make(map[string]*AdminClient),
		register:   make(chan *AdminClient),
		unregister: make(chan *AdminClient),
		broadcast:  make(chan Message, bufferSize),
		logger:     log,
	}
}

// Run starts the hub's main loop. Call in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("admin feed hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("admin feed hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			metrics.Get().RecordAdminConnection(1)
			h.logger.Event("ADMIN_CONNECT", client.ID, "observer connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			metrics.Get().RecordAdminConnection(-1)
			h.logger.Event("ADMIN_DISCONNECT", client.ID, "observer disconnected")

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

// handleBroadcast fans a message out to every connected observer.
func (h *Hub) handleBroadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal admin broadcast: " + err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		select {
		case client.Send <- data:
			metrics.Get().RecordAdminMessage()
		default:
			close(client.Send)
			delete(h.clients, id)
		}
	}
}

// Broadcast publishes msg to every connected admin feed observer.
func (h *Hub) Broadcast(msg Message) {
	h.broadcast <- msg
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP reports that this endpoint requires a WebSocket upgrade; actual
// upgrades are performed by cmd/mtunnel's serveAdmin via gorilla/websocket,
// which then registers the connection through NewAdminClient in
// admin_client.go.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUpgradeRequired)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "WebSocket upgrade required",
		"hint":  "connect via ws:// protocol",
	})
}
