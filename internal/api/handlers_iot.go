// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/binrelay/internal/correlator"
	"github.com/tomtom215/binrelay/internal/devices"
	"github.com/tomtom215/binrelay/internal/dispatch"
	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/modelclient"
	"github.com/tomtom215/binrelay/internal/relay"
)

// DeviceTokenHeader carries the device token on HTTP ingestion routes.
const DeviceTokenHeader = "X-Device-Token"

// respondDispatchError maps dispatch-time failures to status codes.
func respondDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrNoDeviceConnected):
		respondError(w, http.StatusServiceUnavailable, dispatch.ErrNoDeviceConnected.Error(), "No IoT device connected", nil)
	case errors.Is(err, dispatch.ErrDeviceUnreachable):
		respondError(w, http.StatusServiceUnavailable, dispatch.ErrDeviceUnreachable.Error(), "Failed to reach the IoT device", err)
	case errors.Is(err, modelclient.ErrModelServiceUnavailable):
		respondError(w, http.StatusBadGateway, modelclient.ErrModelServiceUnavailable.Error(), "Model service unavailable", err)
	case errors.Is(err, correlator.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", "Server is shutting down", nil)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Request failed", err)
	}
}

// awaitReply blocks on a dispatched request and writes the device reply,
// or 504 on timeout.
func awaitReply(w http.ResponseWriter, r *http.Request, requestID string, handle *correlator.Handle) {
	payload, err := handle.Wait(r.Context())
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	case errors.Is(err, correlator.ErrDeviceTimeout):
		respondJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: correlator.ErrDeviceTimeout.Error(), RequestID: requestID})
	case errors.Is(err, r.Context().Err()):
		logging.Ctx(r.Context()).Debug().Str("request_id", requestID).Msg("caller left before device replied")
	default:
		respondDispatchError(w, err)
	}
}

// Capture handles POST /api/iot/capture.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if !decodeJSON(w, r, h.maxBodyBytes, &req) || !validate(w, &req) {
		return
	}

	res, err := h.dispatcher.Capture(r.Context(), dispatch.CaptureRequest{
		DeviceName:    req.DeviceName,
		ReplySocketID: req.ReplySocketID,
		Metadata:      req.Metadata,
	})
	if err != nil {
		respondDispatchError(w, err)
		return
	}

	if res.Simulated {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"requestId": res.RequestID,
			"image_b64": res.ImageB64,
			"device":    res.Device,
			"simulated": true,
		})
		return
	}

	if req.Wait {
		awaitReply(w, r, res.RequestID, res.Handle)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"requestId": res.RequestID,
		"device":    res.Device,
		"message":   "Capture requested",
	})
}

var runModelReserved = map[string]bool{
	"image_b64":     true,
	"deviceName":    true,
	"replySocketId": true,
	"params":        true,
	"wait":          true,
}

// RunModel handles POST /api/iot/run-model.
func (h *Handler) RunModel(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if !decodeJSON(w, r, h.maxBodyBytes, &raw) {
		return
	}

	var req RunModelRequest
	if len(raw) > 0 {
		body, _ := json.Marshal(raw)
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidJSON, "Invalid run-model request", nil)
			return
		}
	}
	if !validate(w, &req) {
		return
	}

	params := req.Params
	for k, v := range raw {
		if runModelReserved[k] {
			continue
		}
		if params == nil {
			params = make(map[string]interface{})
		}
		if _, set := params[k]; !set {
			params[k] = v
		}
	}

	res, err := h.dispatcher.RunModel(r.Context(), dispatch.RunModelRequest{
		ImageB64:      req.ImageB64,
		DeviceName:    req.DeviceName,
		ReplySocketID: req.ReplySocketID,
		Params:        params,
	})
	if err != nil {
		respondDispatchError(w, err)
		return
	}

	if !res.Accepted {
		respondJSON(w, http.StatusOK, res.Result)
		return
	}
	if req.Wait {
		awaitReply(w, r, res.RequestID, res.Handle)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"requestId": res.RequestID,
		"device":    res.Device,
		"message":   "Model run requested",
	})
}

// RunModelHint handles GET /api/iot/run-model.
func (h *Handler) RunModelHint(w http.ResponseWriter, r *http.Request) {
	modelConfigured := h.model != nil && h.model.Enabled()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"route":  "/api/iot/run-model",
		"method": http.MethodPost,
		"note": "POST JSON { image_b64 } to classify an image, or { deviceName?, replySocketId?, params? } " +
			"to ask a device. Set MODEL_SERVICE_URL to forward to a real model.",
		"model_service_configured": modelConfigured,
	})
}

func deviceIDParam(r *http.Request) string {
	q := r.URL.Query()
	for _, key := range []string{"device_id", "deviceId", "device"} {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return ""
}

// LatestModelResult handles GET /api/iot/latest_model_result.
func (h *Handler) LatestModelResult(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDParam(r)
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeDeviceIDRequired, "device_id query parameter is required", nil)
		return
	}
	res, ok := h.frames.LatestResult(deviceID)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "No model result for device", nil)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// LatestFrame handles GET /api/iot/latest_frame.
func (h *Handler) LatestFrame(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDParam(r)
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeDeviceIDRequired, "device_id query parameter is required", nil)
		return
	}
	f, ok := h.frames.LatestFrame(deviceID)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "No frame for device", nil)
		return
	}
	respondJSON(w, http.StatusOK, f)
}

// authorizeDevice checks the X-Device-Token header against the device
// allow-list and writes 403 or 503 on failure.
func (h *Handler) authorizeDevice(w http.ResponseWriter, r *http.Request) bool {
	err := h.registry.Authorize(r.Context(), r.Header.Get(DeviceTokenHeader))
	switch {
	case err == nil:
		return true
	case errors.Is(err, devices.ErrInvalidToken):
		logging.Ctx(r.Context()).Warn().Str("remote_addr", r.RemoteAddr).Msg("rejected device request with invalid token")
		respondError(w, http.StatusForbidden, ErrCodeInvalidDeviceToken, "Missing or invalid device token", nil)
	default:
		respondError(w, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "Device tokens unavailable", err)
	}
	return false
}

// UploadFrame handles POST /api/iot/upload_frame.
func (h *Handler) UploadFrame(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeDevice(w, r) {
		return
	}

	var req UploadFrameRequest
	if !decodeJSON(w, r, h.maxBodyBytes, &req) || !validate(w, &req) {
		return
	}

	b64, image := relay.DecodeImage(req.Frame)
	if image == nil {
		respondError(w, http.StatusBadRequest, "invalid_frame", "frame must be base64 encoded", nil)
		return
	}

	f := h.frames.PutFrame(req.DeviceID, b64, len(image))
	logging.Ctx(r.Context()).Debug().Str("device", req.DeviceID).Int("size", len(image)).Msg("frame received")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"ts":     f.TS,
	})
}

// ModelResult handles POST /api/iot/model_result, the HTTP twin of the
// iot-model-result socket event.
func (h *Handler) ModelResult(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeDevice(w, r) {
		return
	}

	var raw json.RawMessage
	if !decodeJSON(w, r, h.maxBodyBytes, &raw) {
		return
	}
	reply, err := relay.ParseDeviceReply(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidJSON, "Model result must be a JSON object", nil)
		return
	}

	delivery, err := h.relay.HandleModelResult(r.Context(), raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid model result", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"delivered": string(delivery),
		"requestId": reply.RequestID,
	})
}

// DeviceInfo is one entry of GET /api/iot/devices.
type DeviceInfo struct {
	Name         string    `json:"name"`
	SocketID     string    `json:"socketId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Devices handles GET /api/iot/devices.
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	snapshot := h.registry.Snapshot()
	out := make([]DeviceInfo, 0, len(snapshot))
	for _, d := range snapshot {
		out = append(out, DeviceInfo{Name: d.Name, SocketID: d.Conn.ID(), RegisteredAt: d.RegisteredAt})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": out,
		"count":   len(out),
	})
}
