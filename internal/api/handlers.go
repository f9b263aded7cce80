// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/binrelay/internal/config"
	"github.com/tomtom215/binrelay/internal/devices"
	"github.com/tomtom215/binrelay/internal/dispatch"
	"github.com/tomtom215/binrelay/internal/frames"
	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/models"
	"github.com/tomtom215/binrelay/internal/relay"
	"github.com/tomtom215/binrelay/internal/tokenstore"
	ws "github.com/tomtom215/binrelay/internal/websocket"
)

const defaultMaxBodyBytes = 10 << 20

// DepositStore reads and writes the deposit log.
type DepositStore interface {
	Stats(ctx context.Context) (models.Stats, error)
	RecentDeposits(ctx context.Context, limit int, deviceID string) ([]models.Deposit, error)
	Ping(ctx context.Context) error
}

// TokenStore manages persisted device tokens.
type TokenStore interface {
	Add(ctx context.Context, token, label string) (tokenstore.Entry, error)
	Remove(ctx context.Context, token string) error
	List(ctx context.Context) ([]tokenstore.Entry, error)
}

// ModelStatus reports on the model-service client.
type ModelStatus interface {
	Enabled() bool
	BreakerState() string
}

// Deps are the collaborators a Handler serves. Deposits, Tokens and Model
// may be nil; the routes depending on them then answer 503.
type Deps struct {
	Config     *config.Config
	Dispatcher *dispatch.Dispatcher
	Registry   *devices.Registry
	Hub        *ws.Hub
	Frames     *frames.Store
	Relay      *relay.Relay
	Deposits   DepositStore
	Tokens     TokenStore
	Model      ModelStatus
}

// Handler contains dependencies for API handlers.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, WebSocket upgrade
//   - handlers_iot.go: capture, run-model and device ingestion routes
//   - handlers_stream.go: server-sent new-frame notices
//   - handlers_admin.go: device token management
//   - handlers_stats.go: deposit log and aggregate stats
//   - handlers_health.go: liveness and readiness
type Handler struct {
	config     *config.Config
	dispatcher *dispatch.Dispatcher
	registry   *devices.Registry
	wsHub      *ws.Hub
	frames     *frames.Store
	relay      *relay.Relay
	deposits   DepositStore
	tokens     TokenStore
	model      ModelStatus
	startTime  time.Time

	maxBodyBytes int64
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	maxBody := int64(defaultMaxBodyBytes)
	if d.Config != nil && d.Config.IoT.MaxMessageBytes > 0 {
		maxBody = d.Config.IoT.MaxMessageBytes
	}
	return &Handler{
		config:       d.Config,
		dispatcher:   d.Dispatcher,
		registry:     d.Registry,
		wsHub:        d.Hub,
		frames:       d.Frames,
		relay:        d.Relay,
		deposits:     d.Deposits,
		tokens:       d.Tokens,
		model:        d.Model,
		startTime:    time.Now(),
		maxBodyBytes: maxBody,
	}
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates WebSocket connection origins. Devices
// are not browsers and send no Origin header; those connections are
// allowed and must still authenticate with a device token to register.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if h.config == nil {
		return true
	}

	for _, allowedOrigin := range h.config.Security.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// WebSocket upgrades the connection and hands it to the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		logging.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	select {
	case h.wsHub.Register <- client:
	case <-h.wsHub.Done():
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}
	client.Start()
}
