// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/metrics"
)

const (
	writeWait             = 10 * time.Second
	pongWait              = 60 * time.Second
	pingPeriod            = (pongWait * 9) / 10
	defaultMaxMessageSize = 10 * 1024 * 1024 // frames carry base64 images
	sendBufferSize        = 256
)

var (
	// ErrClientClosed is returned by Emit after the connection has gone.
	ErrClientClosed = errors.New("websocket client closed")

	// ErrSendBufferFull is returned by Emit when the client is not keeping up.
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	mu     sync.Mutex
	closed bool

	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewClient creates a Client with a fresh socket id.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(logging.ContextWithSocketID(context.Background(), id))
	c := &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if hub.cfg.MessageRate > 0 {
		burst := hub.cfg.MessageBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(hub.cfg.MessageRate), burst)
	}
	return c
}

// ID returns the socket id. Callers use it as the reply address.
func (c *Client) ID() string {
	return c.id
}

// Emit queues an event for this client without blocking.
func (c *Client) Emit(event string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- Message{Type: event, Data: data}:
		return nil
	default:
		metrics.WSErrors.WithLabelValues("send_buffer_full").Inc()
		return ErrSendBufferFull
	}
}

// close stops further Emits and lets writePump send a close frame.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-c.hub.done:
			c.close()
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Str("socket_id", c.id).Msg("unexpected websocket close error")
			}
			return
		}
		metrics.WSMessagesReceived.Inc()

		if c.limiter != nil && !c.limiter.Allow() {
			metrics.WSErrors.WithLabelValues("rate_limited").Inc()
			logging.Debug().Str("socket_id", c.id).Msg("dropping websocket message over rate limit")
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			metrics.WSErrors.WithLabelValues("decode").Inc()
			logging.Debug().Str("socket_id", c.id).Msg("dropping malformed websocket message")
			continue
		}
		c.hub.route(c.ctx, c, msg)
	}
}

// writePump pumps messages from the send queue to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := MarshalMessage(message)
			if err != nil {
				logging.Error().Err(err).Str("message_type", message.Type).Msg("failed to marshal websocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Debug().Err(err).Str("socket_id", c.id).Msg("failed to write websocket message")
				return
			}
			metrics.WSMessagesSent.Inc()

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
