// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/tokenstore"
)

// AdminTokenHeader carries the admin token on /api/admin routes.
const AdminTokenHeader = "X-Admin-Token"

// RequireAdmin guards token management. With no admin token configured the
// routes answer 503.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var want string
		if h.config != nil {
			want = h.config.Security.AdminToken
		}
		if want == "" {
			respondError(w, http.StatusServiceUnavailable, "admin_token_not_configured", "Device token management is disabled", nil)
			return
		}
		got := r.Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			logging.Ctx(r.Context()).Warn().Str("remote_addr", r.RemoteAddr).Msg("rejected admin request")
			respondError(w, http.StatusForbidden, ErrCodeForbidden, "Invalid admin token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) tokensAvailable(w http.ResponseWriter) bool {
	if h.tokens == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "Device token store is not enabled", nil)
		return false
	}
	return true
}

// tokenView hides all but the tail of a stored token.
type tokenView struct {
	Token     string `json:"token"`
	Label     string `json:"label,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func maskToken(t string) string {
	if len(t) <= 4 {
		return "****"
	}
	return "****" + t[len(t)-4:]
}

// ListDeviceTokens handles GET /api/admin/device-tokens.
func (h *Handler) ListDeviceTokens(w http.ResponseWriter, r *http.Request) {
	if !h.tokensAvailable(w) {
		return
	}
	entries, err := h.tokens.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to list device tokens", err)
		return
	}
	out := make([]tokenView, 0, len(entries))
	for _, e := range entries {
		out = append(out, tokenView{Token: maskToken(e.Token), Label: e.Label, CreatedAt: e.CreatedAt.UnixMilli()})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": out,
		"count":  len(out),
	})
}

// AddDeviceToken handles POST /api/admin/device-tokens.
func (h *Handler) AddDeviceToken(w http.ResponseWriter, r *http.Request) {
	if !h.tokensAvailable(w) {
		return
	}
	var req DeviceTokenRequest
	if !decodeJSON(w, r, h.maxBodyBytes, &req) || !validate(w, &req) {
		return
	}
	entry, err := h.tokens.Add(r.Context(), req.Token, req.Label)
	if err != nil {
		if errors.Is(err, tokenstore.ErrEmptyToken) {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Token cannot be empty", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to store device token", err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("label", sanitizeLogValue(entry.Label)).Msg("device token added")
	respondJSON(w, http.StatusCreated, tokenView{
		Token:     maskToken(entry.Token),
		Label:     entry.Label,
		CreatedAt: entry.CreatedAt.UnixMilli(),
	})
}

// RemoveDeviceToken handles DELETE /api/admin/device-tokens/{token}.
func (h *Handler) RemoveDeviceToken(w http.ResponseWriter, r *http.Request) {
	if !h.tokensAvailable(w) {
		return
	}
	token := chi.URLParam(r, "token")
	switch err := h.tokens.Remove(r.Context(), token); {
	case err == nil:
		logging.Ctx(r.Context()).Info().Msg("device token removed")
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, tokenstore.ErrNotFound):
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Token not found", nil)
	case errors.Is(err, tokenstore.ErrEmptyToken):
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Token cannot be empty", nil)
	default:
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to remove device token", err)
	}
}
