// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/binrelay/internal/correlator"
	"github.com/tomtom215/binrelay/internal/dispatch"
	"github.com/tomtom215/binrelay/internal/relay"
	ws "github.com/tomtom215/binrelay/internal/websocket"
)

func TestRouter_Routes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	router := NewRouter(f.handler, nil).SetupChi()

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/api/health/live", http.StatusOK},
		{http.MethodGet, "/api/health/ready", http.StatusOK},
		{http.MethodGet, "/api/iot/devices", http.StatusOK},
		{http.MethodGet, "/api/iot/run-model", http.StatusOK},
		{http.MethodGet, "/api/iot/latest_frame", http.StatusBadRequest},
		{http.MethodGet, "/api/stats", http.StatusOK},
		{http.MethodGet, "/api/events", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/api/stats", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/nope", http.StatusNotFound},
		{http.MethodGet, "/api/admin/device-tokens", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestRouter_RequestIDHeader(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	router := NewRouter(f.handler, nil).SetupChi()

	req := httptest.NewRequest(http.MethodGet, "/api/health/live", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected an X-Request-ID response header")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("Expected security headers on API responses")
	}
}

func TestRouter_StreamFrames(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	server := httptest.NewServer(NewRouter(f.handler, nil).SetupChi())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/iot/stream/bin-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected text/event-stream, got %q", ct)
	}

	deadline := time.Now().Add(time.Second)
	for f.frames.Subscribers("bin-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.frames.PutFrame("bin-1", "aGk=", 2)

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	line := string(buf[:n])
	if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, `"device_id":"bin-1"`) {
		t.Errorf("Expected a data event for bin-1, got %q", line)
	}
}

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn, want string) wsFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg wsFrame
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func dialWS(t *testing.T, server *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	greeting := readFrame(t, conn, ws.MessageTypeConnected)
	var data struct {
		SocketID string `json:"socketId"`
	}
	_ = json.Unmarshal(greeting.Data, &data)
	return conn, data.SocketID
}

// TestRouter_CaptureRoundTrip drives a capture from an HTTP caller through
// a WebSocket device and back to the caller's socket.
func TestRouter_CaptureRoundTrip(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.handler.dispatcher = dispatch.New(dispatch.Config{RequestTimeout: time.Minute}, dispatch.Deps{
		Devices: f.registry,
		Targets: dispatch.TargetResolverFunc(func(id string) (correlator.Target, bool) {
			return f.hub.Lookup(id)
		}),
		Correlator: f.corr,
		Model:      f.model,
	})
	relay.Bind(f.hub, f.registry, f.handler.relay)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.hub.RunWithContext(ctx) }()

	server := httptest.NewServer(NewRouter(f.handler, nil).SetupChi())
	defer server.Close()

	browser, browserSocket := dialWS(t, server)
	device, _ := dialWS(t, server)

	if err := device.WriteJSON(ws.Message{Type: relay.EventRegisterDevice, Data: map[string]string{"name": "bin-1"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	readFrame(t, device, relay.EventRegisterSuccess)

	body := `{"deviceName":"bin-1","replySocketId":"` + browserSocket + `"}`
	resp, err := http.Post(server.URL+"/api/iot/capture", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}
	var accepted struct {
		RequestID string `json:"requestId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}

	cmd := readFrame(t, device, dispatch.EventCapture)
	var capture struct {
		RequestID string `json:"requestId"`
	}
	_ = json.Unmarshal(cmd.Data, &capture)
	if capture.RequestID != accepted.RequestID {
		t.Fatalf("Expected device command for %s, got %s", accepted.RequestID, capture.RequestID)
	}

	reply := map[string]string{"requestId": capture.RequestID, "image_b64": "aGk=", "device": "bin-1"}
	if err := device.WriteJSON(ws.Message{Type: relay.EventPhoto, Data: reply}); err != nil {
		t.Fatalf("photo: %v", err)
	}

	photo := readFrame(t, browser, relay.EventPhoto)
	if !strings.Contains(string(photo.Data), accepted.RequestID) {
		t.Errorf("Expected photo for %s, got %s", accepted.RequestID, photo.Data)
	}

	deadline := time.Now().Add(time.Second)
	for f.corr.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.corr.Pending() != 0 {
		t.Errorf("Expected no pending requests, got %d", f.corr.Pending())
	}
}
