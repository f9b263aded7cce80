// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types handled or emitted by the hub itself.
const (
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
)

// Message is the envelope of every frame in both directions.
// Inbound Data is decoded as json.RawMessage.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// inbound is Message as decoded from the wire.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// HandlerFunc handles one inbound event from a client. Handlers run on the
// client's read goroutine, so events from one connection are processed in
// order.
type HandlerFunc func(ctx context.Context, c *Client, data json.RawMessage)

// HubConfig bounds per-connection inbound traffic.
type HubConfig struct {
	// MaxMessageSize is the largest accepted inbound frame in bytes.
	MaxMessageSize int64

	// MessageRate and MessageBurst limit inbound events per connection.
	// A zero rate disables limiting.
	MessageRate  float64
	MessageBurst int
}

// Hub owns every live connection. The Run goroutine is the only writer of
// the client set; broadcast fan-out happens there too.
type Hub struct {
	clients    map[*Client]bool
	byID       map[string]*Client
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	cfg HubConfig

	handlersMu   sync.RWMutex
	handlers     map[string]HandlerFunc
	onDisconnect []func(*Client)

	done     chan struct{}
	doneOnce sync.Once
}

// NewHub creates a new Hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		byID:       make(map[string]*Client),
		cfg:        cfg,
		handlers:   make(map[string]HandlerFunc),
		done:       make(chan struct{}),
	}
}

// On registers the handler for an inbound event type, replacing any
// previous one.
func (h *Hub) On(event string, fn HandlerFunc) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[event] = fn
}

// OnDisconnect registers a callback run on the hub goroutine after a
// client has been removed.
func (h *Hub) OnDisconnect(fn func(*Client)) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.onDisconnect = append(h.onDisconnect, fn)
}

// route dispatches one inbound message.
func (h *Hub) route(ctx context.Context, c *Client, msg inbound) {
	if msg.Type == MessageTypePing {
		if err := c.Emit(MessageTypePong, nil); err != nil {
			logging.Debug().Err(err).Str("socket_id", c.id).Msg("failed to send pong")
		}
		return
	}

	h.handlersMu.RLock()
	fn, ok := h.handlers[msg.Type]
	h.handlersMu.RUnlock()
	if !ok {
		metrics.WSErrors.WithLabelValues("unknown_event").Inc()
		logging.Debug().Str("socket_id", c.id).Str("event", msg.Type).Msg("ignoring unknown websocket event")
		return
	}
	fn(ctx, c, msg.Data)
}

// RunWithContext runs the hub until ctx is done, then closes every client
// and returns ctx.Err().
//
// Selection is prioritized: shutdown first, then client lifecycle, then
// broadcasts, so client state is settled before any fan-out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	defer h.doneOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.byID[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	if err := client.Emit(MessageTypeConnected, map[string]string{"socketId": client.id}); err != nil {
		logging.Warn().Err(err).Str("socket_id", client.id).Msg("failed to greet websocket client")
	}
	logging.Info().Str("socket_id", client.id).Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		delete(h.byID, client.id)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	client.close()
	metrics.WSConnections.Set(float64(total))
	logging.Info().Str("socket_id", client.id).Int("total_clients", total).Msg("websocket client disconnected")
	h.runDisconnect(client)
}

func (h *Hub) runDisconnect(client *Client) {
	h.handlersMu.RLock()
	callbacks := append([]func(*Client){}, h.onDisconnect...)
	h.handlersMu.RUnlock()
	for _, fn := range callbacks {
		fn(client)
	}
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// sortedClients returns the clients ordered by id. Caller holds h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToClients fans message out in client id order. Clients whose
// send buffer is full are dropped.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.RLock()
	clients := h.sortedClients()
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		if err := client.Emit(message.Type, message.Data); err != nil {
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		logging.Warn().Str("socket_id", client.id).Msg("dropping websocket client with full send buffer")
		h.removeClient(client)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := h.sortedClients()
	h.clients = make(map[*Client]bool)
	h.byID = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
	metrics.WSConnections.Set(0)
}

// BroadcastJSON queues a message for every connected client. It never
// blocks; the message is dropped when the broadcast queue is full.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
	default:
		logging.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping message")
	}
}

// Lookup returns the live client with the given socket id.
func (h *Hub) Lookup(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.byID[id]
	return c, ok
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalMessage converts a message to JSON.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
