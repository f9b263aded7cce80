// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package websocket

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/binrelay/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// startHub creates a hub and runs it until the test ends.
func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	hub := NewHub(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.RunWithContext(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

// newTestClient creates a client without a network connection.
func newTestClient(hub *Hub, id string, buffer int) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{id: id, hub: hub, send: make(chan Message, buffer), ctx: ctx, cancel: cancel}
}

// receive waits for the next queued message on a test client.
func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatalf("send channel of %s closed", c.id)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for message on %s", c.id)
	}
	return Message{}
}

func register(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.Register <- c
	if msg := receive(t, c); msg.Type != MessageTypeConnected {
		t.Fatalf("Expected %s greeting, got %s", MessageTypeConnected, msg.Type)
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(HubConfig{})

	checks := []struct {
		name  string
		check bool
	}{
		{"clients map", hub.clients != nil},
		{"byID map", hub.byID != nil},
		{"broadcast channel", hub.broadcast != nil},
		{"Register channel", hub.Register != nil},
		{"Unregister channel", hub.Unregister != nil},
		{"handlers map", hub.handlers != nil},
		{"default max message size", hub.cfg.MaxMessageSize == defaultMaxMessageSize},
	}
	for _, c := range checks {
		if !c.check {
			t.Errorf("%s not initialized", c.name)
		}
	}
}

func TestHub_RegisterGreetsWithSocketID(t *testing.T) {
	hub := startHub(t, HubConfig{})
	c := newTestClient(hub, "sock-1", 8)
	hub.Register <- c

	msg := receive(t, c)
	if msg.Type != MessageTypeConnected {
		t.Fatalf("Expected connected, got %s", msg.Type)
	}
	data, ok := msg.Data.(map[string]string)
	if !ok || data["socketId"] != "sock-1" {
		t.Errorf("Expected socketId sock-1, got %v", msg.Data)
	}

	if got, ok := hub.Lookup("sock-1"); !ok || got != c {
		t.Error("Expected Lookup to find registered client")
	}
	if hub.GetClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.GetClientCount())
	}
}

func TestHub_UnregisterRunsDisconnectCallbacks(t *testing.T) {
	hub := NewHub(HubConfig{})
	gone := make(chan string, 1)
	hub.OnDisconnect(func(c *Client) { gone <- c.ID() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.RunWithContext(ctx) }()

	c := newTestClient(hub, "sock-1", 8)
	register(t, hub, c)
	hub.Unregister <- c

	select {
	case id := <-gone:
		if id != "sock-1" {
			t.Errorf("Expected disconnect for sock-1, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not called")
	}

	if _, ok := hub.Lookup("sock-1"); ok {
		t.Error("Expected client to be removed")
	}
	if err := c.Emit("anything", nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed after unregister, got %v", err)
	}
}

func TestHub_UnregisterUnknownClient(t *testing.T) {
	hub := NewHub(HubConfig{})
	called := false
	hub.OnDisconnect(func(*Client) { called = true })

	hub.removeClient(newTestClient(hub, "ghost", 1))
	if called {
		t.Error("Expected no disconnect callback for unknown client")
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub := startHub(t, HubConfig{})
	clients := []*Client{
		newTestClient(hub, "a", 8),
		newTestClient(hub, "b", 8),
		newTestClient(hub, "c", 8),
	}
	for _, c := range clients {
		register(t, hub, c)
	}

	hub.BroadcastJSON("device-registered", map[string]string{"name": "raspi-1"})

	for _, c := range clients {
		msg := receive(t, c)
		if msg.Type != "device-registered" {
			t.Errorf("client %s: expected device-registered, got %s", c.id, msg.Type)
		}
	}
}

func TestHub_BroadcastDropsSlowClient(t *testing.T) {
	hub := NewHub(HubConfig{})
	var mu sync.Mutex
	var dropped []string
	hub.OnDisconnect(func(c *Client) {
		mu.Lock()
		dropped = append(dropped, c.id)
		mu.Unlock()
	})

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	hub.addClient(slow) // greeting fills the one-slot buffer
	hub.addClient(fast)
	<-fast.send

	hub.broadcastToClients(Message{Type: "stats_update"})

	if _, ok := hub.Lookup("slow"); ok {
		t.Error("Expected slow client to be dropped")
	}
	if _, ok := hub.Lookup("fast"); !ok {
		t.Error("Expected fast client to remain")
	}
	if msg := <-fast.send; msg.Type != "stats_update" {
		t.Errorf("Expected stats_update on fast client, got %s", msg.Type)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 1 || dropped[0] != "slow" {
		t.Errorf("Expected disconnect callback for slow, got %v", dropped)
	}
}

func TestHub_BroadcastJSONNonBlockingWhenFull(t *testing.T) {
	hub := NewHub(HubConfig{})
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.BroadcastJSON("stats_update", i)
	}
	if len(hub.broadcast) != cap(hub.broadcast) {
		t.Errorf("Expected broadcast queue to be full, got %d", len(hub.broadcast))
	}
}

func TestHub_Route(t *testing.T) {
	hub := NewHub(HubConfig{})
	c := newTestClient(hub, "sock-1", 8)

	var got json.RawMessage
	hub.On("iot-photo", func(_ context.Context, from *Client, data json.RawMessage) {
		if from != c {
			t.Error("handler received wrong client")
		}
		got = data
	})

	hub.route(context.Background(), c, inbound{Type: "iot-photo", Data: json.RawMessage(`{"requestId":"r1"}`)})
	if string(got) != `{"requestId":"r1"}` {
		t.Errorf("Expected handler to receive raw data, got %s", got)
	}

	hub.route(context.Background(), c, inbound{Type: MessageTypePing})
	if msg := receive(t, c); msg.Type != MessageTypePong {
		t.Errorf("Expected pong, got %s", msg.Type)
	}

	hub.route(context.Background(), c, inbound{Type: "nobody-listens"})
	select {
	case msg := <-c.send:
		t.Errorf("Expected no reply to unknown event, got %s", msg.Type)
	default:
	}
}

func TestClient_EmitBufferFull(t *testing.T) {
	hub := NewHub(HubConfig{})
	c := newTestClient(hub, "sock-1", 1)

	if err := c.Emit("a", nil); err != nil {
		t.Fatalf("first Emit: %v", err)
	}
	if err := c.Emit("b", nil); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("Expected ErrSendBufferFull, got %v", err)
	}
	c.close()
	c.close() // idempotent
	if err := c.Emit("c", nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed, got %v", err)
	}
}

func TestHub_RunWithContext(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func() (context.Context, context.CancelFunc)
		cancel  bool
		wantErr error
	}{
		{
			name:    "context canceled",
			ctx:     func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			cancel:  true,
			wantErr: context.Canceled,
		},
		{
			name: "context deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
			wantErr: context.DeadlineExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(HubConfig{})
			ctx, cancel := tt.ctx()
			defer cancel()

			c := newTestClient(hub, "sock-1", 8)
			errCh := make(chan error, 1)
			go func() { errCh <- hub.RunWithContext(ctx) }()
			register(t, hub, c)

			if tt.cancel {
				cancel()
			}
			select {
			case err := <-errCh:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
			case <-time.After(time.Second):
				t.Fatal("RunWithContext did not return")
			}

			select {
			case <-hub.Done():
			default:
				t.Error("Expected Done to be closed")
			}
			if hub.GetClientCount() != 0 {
				t.Errorf("Expected all clients closed, got %d", hub.GetClientCount())
			}
			if err := c.Emit("late", nil); !errors.Is(err, ErrClientClosed) {
				t.Errorf("Expected ErrClientClosed after shutdown, got %v", err)
			}
		})
	}
}

func TestGetShutdownReason(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithTimeout(context.Background(), -time.Second)
	defer cancel2()

	if got := getShutdownReason(canceled); got != ShutdownReasonContextCanceled {
		t.Errorf("Expected %s, got %s", ShutdownReasonContextCanceled, got)
	}
	if got := getShutdownReason(expired); got != ShutdownReasonContextDeadline {
		t.Errorf("Expected %s, got %s", ShutdownReasonContextDeadline, got)
	}
}

func TestMarshalMessage(t *testing.T) {
	out, err := MarshalMessage(Message{Type: "register_success", Data: map[string]string{"name": "raspi-1"}})
	if err != nil {
		t.Fatalf("MarshalMessage: %v", err)
	}
	want := `{"type":"register_success","data":{"name":"raspi-1"}}`
	if string(out) != want {
		t.Errorf("Expected %s, got %s", want, out)
	}
}
