// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package api

import (
	"net/http"
	"strconv"
)

func (h *Handler) depositsAvailable(w http.ResponseWriter) bool {
	if h.deposits == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "Deposit log is not enabled", nil)
		return false
	}
	return true
}

// Events handles GET /api/events, the recent deposit log.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if !h.depositsAvailable(w) {
		return
	}

	q := r.URL.Query()
	req := EventsRequest{DeviceID: q.Get("device_id")}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be an integer", nil)
			return
		}
		req.Limit = n
	}
	if !validate(w, &req) {
		return
	}

	deposits, err := h.deposits.RecentDeposits(r.Context(), req.Limit, req.DeviceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to read deposits", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": deposits,
		"count":  len(deposits),
	})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.depositsAvailable(w) {
		return
	}
	stats, err := h.deposits.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to read stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
