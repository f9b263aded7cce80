// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/binrelay/internal/logging"
)

const (
	streamBuffer    = 8
	streamKeepAlive = 25 * time.Second
)

// StreamFrames handles GET /api/iot/stream/{deviceId} as server-sent
// events. Each event announces a new frame for the device; clients fetch
// the image from /api/iot/latest_frame.
func (h *Handler) StreamFrames(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	if deviceID == "" {
		deviceID = deviceIDParam(r)
	}
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeDeviceIDRequired, "device_id query parameter is required", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Streaming unsupported", nil)
		return
	}

	notices, unsubscribe := h.frames.Subscribe(deviceID, streamBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := logging.Ctx(r.Context())
	log.Debug().Str("device", deviceID).Msg("frame stream opened")
	defer log.Debug().Str("device", deviceID).Msg("frame stream closed")

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case n, ok := <-notices:
			if !ok {
				return
			}
			data, err := json.Marshal(map[string]interface{}{
				"device_id": n.DeviceID,
				"size":      n.Size,
				"ts":        n.TS,
			})
			if err != nil {
				log.Error().Err(err).Msg("failed to marshal frame notice")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
