// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package api

// CaptureRequest is the body of POST /api/iot/capture.
type CaptureRequest struct {
	DeviceName    string                 `json:"deviceName" validate:"omitempty,devicename"`
	ReplySocketID string                 `json:"replySocketId" validate:"omitempty,max=64"`
	Metadata      map[string]interface{} `json:"metadata"`

	// Wait blocks until the device replies or the request times out.
	Wait bool `json:"wait"`
}

// RunModelRequest is the body of POST /api/iot/run-model. Any fields other
// than the ones below are forwarded as model parameters.
type RunModelRequest struct {
	ImageB64      string                 `json:"image_b64"`
	DeviceName    string                 `json:"deviceName" validate:"omitempty,devicename"`
	ReplySocketID string                 `json:"replySocketId" validate:"omitempty,max=64"`
	Params        map[string]interface{} `json:"params"`
	Wait          bool                   `json:"wait"`
}

// UploadFrameRequest is the body of POST /api/iot/upload_frame.
type UploadFrameRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=128"`
	Frame    string `json:"frame" validate:"required"`
}

// DeviceTokenRequest is the body of POST /api/admin/device-tokens.
type DeviceTokenRequest struct {
	Token string `json:"token" validate:"required,max=256"`
	Label string `json:"label" validate:"max=128"`
}

// EventsRequest holds the query parameters of GET /api/events.
type EventsRequest struct {
	Limit    int    `json:"limit" validate:"gte=0,lte=500"`
	DeviceID string `json:"device_id" validate:"max=128"`
}
