// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/validation"
)

// Error codes written in the "error" field of error responses.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeInvalidJSON        = "invalid_json"
	ErrCodeBodyTooLarge       = "body_too_large"
	ErrCodeNotFound           = "not_found"
	ErrCodeForbidden          = "forbidden"
	ErrCodeInternal           = "server_error"
	ErrCodeDeviceIDRequired   = "device_id_required"
	ErrCodeInvalidDeviceToken = "missing_or_invalid_device_token"
	ErrCodeStoreUnavailable   = "store_unavailable"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
}

// sanitizeLogValue escapes control characters so request data cannot
// forge log lines.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON writes v as JSON with status.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError writes {error, message}. A non-nil err is logged, never
// sent to the client.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", sanitizeLogValue(code)).Str("error", sanitizeLogValue(err.Error())).Msg("API Error")
	}
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// respondValidationError writes a 400 for a failed DTO validation.
func respondValidationError(w http.ResponseWriter, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	respondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	})
}

// decodeJSON reads a JSON request body of at most limit bytes into dst.
// An empty body leaves dst untouched. It writes the error response itself
// and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, ErrCodeBodyTooLarge, fmt.Sprintf("Request body exceeds %d bytes", limit), nil)
			return false
		}
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body", err)
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidJSON, "Request body must be a JSON object", nil)
		return false
	}
	return true
}

// validate runs struct validation and writes a 400 on failure.
func validate(w http.ResponseWriter, v interface{}) bool {
	if verr := validation.ValidateStruct(v); verr != nil {
		respondValidationError(w, verr)
		return false
	}
	return true
}
