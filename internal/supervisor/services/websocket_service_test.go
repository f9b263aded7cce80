// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	ws "github.com/tomtom215/binrelay/internal/websocket"
)

var _ suture.Service = (*WebSocketHubService)(nil)

type fakeHub struct {
	err  error
	runs atomic.Int32
}

func (h *fakeHub) RunWithContext(ctx context.Context) error {
	h.runs.Add(1)
	if h.err != nil {
		return h.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestWebSocketHubService_Serve(t *testing.T) {
	hub := &fakeHub{}
	svc := NewWebSocketHubService(hub)
	if svc.String() != "websocket-hub" {
		t.Errorf("Expected name websocket-hub, got %q", svc.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}

	failing := &fakeHub{err: errors.New("boom")}
	if err := NewWebSocketHubService(failing).Serve(context.Background()); !errors.Is(err, failing.err) {
		t.Errorf("Expected the hub error, got %v", err)
	}
}

func TestWebSocketHubService_RealHubUnderSupervisor(t *testing.T) {
	hub := ws.NewHub(ws.HubConfig{})
	sup := suture.New("test", suture.Spec{Timeout: time.Second})
	sup.Add(NewWebSocketHubService(hub))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-errCh

	select {
	case <-hub.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected the hub to stop with the supervisor")
	}
}
