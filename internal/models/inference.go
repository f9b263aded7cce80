// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

// Package models holds the data types shared between the relay, the
// dispatcher, the model-service client and the stores.
package models

import (
	"github.com/goccy/go-json"
)

// Inference result sources.
const (
	SourceDevice = "device"
	SourceServer = "server"
	SourceMock   = "mock"
)

// InferenceResult is a classification of one e-waste item.
type InferenceResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Error      string  `json:"error,omitempty"`
	RequestID  string  `json:"requestId,omitempty"`
	Device     string  `json:"device,omitempty"`

	// Details carries the raw model-service response body, if any.
	Details json.RawMessage `json:"details,omitempty"`
}
