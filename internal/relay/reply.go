// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package relay

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ErrInvalidPayload is returned for a device message that is not a JSON object.
var ErrInvalidPayload = errors.New("invalid_payload")

// Key precedence for the loosely shaped device payloads. The first present
// key wins.
var (
	requestIDKeys = []string{"requestId", "request_id"}
	deviceKeys    = []string{"device", "device_id", "deviceId", "deviceName"}
	imageKeys     = []string{"image_b64", "imageBase64", "frame", "image"}
	weightKeys    = []string{"weight", "amount", "weight_kg"}
)

// DeviceReply is a device message normalized once at ingestion.
type DeviceReply struct {
	RequestID string
	DeviceID  string

	// ImageB64 is the image with any data-URL prefix removed; Image is its
	// decoded bytes. Image is nil when the payload carried no decodable image.
	ImageB64 string
	Image    []byte

	Label         string
	Confidence    float64
	HasConfidence bool
	Weight        float64
	Error         string

	// Result is the nested "result" value as sent, if any.
	Result json.RawMessage

	// Raw is the payload exactly as received.
	Raw json.RawMessage
}

// ParseDeviceReply normalizes a photo or model-result payload.
func ParseDeviceReply(raw json.RawMessage) (DeviceReply, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return DeviceReply{}, ErrInvalidPayload
	}

	r := DeviceReply{
		RequestID: firstString(fields, requestIDKeys...),
		DeviceID:  firstString(fields, deviceKeys...),
		Error:     firstString(fields, "error"),
		Raw:       raw,
	}

	if img := firstString(fields, imageKeys...); img != "" {
		r.ImageB64, r.Image = DecodeImage(img)
	}

	r.Label = firstString(fields, "label")
	r.Confidence, r.HasConfidence = firstNumber(fields, "confidence")
	r.Weight, _ = firstNumber(fields, weightKeys...)

	if nested, ok := fields["result"]; ok && !isNull(nested) {
		r.Result = nested
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			if r.Label == "" {
				r.Label = firstString(inner, "label", "result")
			}
			if !r.HasConfidence {
				r.Confidence, r.HasConfidence = firstNumber(inner, "confidence")
			}
			if r.Weight == 0 {
				r.Weight, _ = firstNumber(inner, weightKeys...)
			}
		} else if r.Label == "" {
			var s string
			if json.Unmarshal(nested, &s) == nil {
				r.Label = s
			}
		}
	}

	return r, nil
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || string(v) == "null"
}

// firstString returns the first key holding a non-empty string.
func firstString(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || isNull(v) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// firstNumber returns the first key holding a number or numeric string.
func firstNumber(fields map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || isNull(v) {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			return f, true
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// DecodeImage strips a data-URL prefix and decodes the base64 body, padded
// or not. It returns the stripped text and nil bytes if decoding fails.
func DecodeImage(s string) (string, []byte) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return s, b
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return s, b
	}
	return s, nil
}
