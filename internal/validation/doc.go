// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

// Package validation validates request DTOs with go-playground/validator v10.
//
// A single validator instance is built lazily and shared. Errors name
// fields by their json tag, and the custom "devicename" tag checks the
// names devices register under.
//
//	type UploadFrameRequest struct {
//	    DeviceID string `json:"device_id" validate:"required,devicename"`
//	    Frame    string `json:"frame" validate:"required"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    writeError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
//	}
package validation
