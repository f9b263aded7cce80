// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package api

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

// HealthLive handles GET /api/health/live. It only proves the process is
// serving requests.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "alive",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HealthReady handles GET /api/health/ready.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	select {
	case <-h.wsHub.Done():
		checks["websocket"] = "stopped"
		ready = false
	default:
		checks["websocket"] = "ok"
	}

	if h.deposits == nil {
		checks["database"] = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := h.deposits.Ping(ctx)
		cancel()
		if err != nil {
			checks["database"] = "unavailable"
			ready = false
		} else {
			checks["database"] = "ok"
		}
	}

	switch {
	case h.model == nil || !h.model.Enabled():
		checks["model_service"] = "not_configured"
	default:
		// An open breaker degrades run-model but the relay still serves
		// devices, so it does not fail readiness.
		checks["model_service"] = h.model.BreakerState()
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":            status,
		"checks":            checks,
		"connected_devices": h.registry.Count(),
		"clients":           h.wsHub.GetClientCount(),
	})
}
