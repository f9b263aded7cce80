// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

// Package dispatch turns capture and run-model requests into device
// commands, or answers them locally when no device can.
//
// Capture: device if one resolves, else a simulated image when simulate
// mode is on, else ErrNoDeviceConnected.
//
// RunModel precedence:
//  1. an inline image is sent straight to the model service
//  2. a resolved device receives run_model and replies asynchronously
//  3. otherwise the model service (or its mock fallback) answers
package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/binrelay/internal/correlator"
	"github.com/tomtom215/binrelay/internal/devices"
	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/metrics"
	"github.com/tomtom215/binrelay/internal/models"
)

// Device command and reply events.
const (
	EventCapture     = "capture"
	EventRunModel    = "run_model"
	EventPhoto       = "iot-photo"
	EventModelResult = "iot-model-result"
)

// SimulatedDevice is the device name reported for simulated captures.
const SimulatedDevice = "simulated"

var (
	// ErrNoDeviceConnected is returned when a capture finds no device and
	// simulate mode is off.
	ErrNoDeviceConnected = errors.New("no_device_connected")

	// ErrDeviceUnreachable is returned when the command could not be
	// written to the resolved device.
	ErrDeviceUnreachable = errors.New("device_unreachable")
)

// placeholderPNG is a 1x1 transparent PNG returned by simulated captures.
var placeholderPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// DeviceResolver picks the device a command goes to.
type DeviceResolver interface {
	Resolve(explicit string) (devices.Device, bool)
}

// TargetResolver finds the live connection a reply should be sent to.
type TargetResolver interface {
	Target(socketID string) (correlator.Target, bool)
}

// TargetResolverFunc adapts a function to TargetResolver.
type TargetResolverFunc func(socketID string) (correlator.Target, bool)

// Target implements TargetResolver.
func (f TargetResolverFunc) Target(socketID string) (correlator.Target, bool) {
	return f(socketID)
}

// Inferencer classifies an item from a JSON-able payload.
type Inferencer interface {
	Infer(ctx context.Context, payload map[string]interface{}) (models.InferenceResult, error)
}

// LocalCapturer produces an image on the server host for simulated captures.
type LocalCapturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Config holds dispatcher behavior.
type Config struct {
	// Simulate answers captures locally when no device is connected.
	Simulate bool

	// RequestTimeout bounds each pending device request. Zero uses the
	// correlator default.
	RequestTimeout time.Duration
}

// Deps are the collaborators a Dispatcher needs. Targets, Model and
// Capturer may be nil.
type Deps struct {
	Devices    DeviceResolver
	Targets    TargetResolver
	Correlator *correlator.Correlator
	Model      Inferencer
	Capturer   LocalCapturer
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	cfg  Config
	deps Deps
}

// New creates a Dispatcher.
func New(cfg Config, deps Deps) *Dispatcher {
	return &Dispatcher{cfg: cfg, deps: deps}
}

// CaptureRequest asks for a photo.
type CaptureRequest struct {
	DeviceName    string
	ReplySocketID string
	Metadata      map[string]interface{}
}

// CaptureResult is either an accepted device request or a simulated image.
type CaptureResult struct {
	RequestID string
	Accepted  bool
	Simulated bool
	ImageB64  string
	Device    string

	// Handle completes when the device replies or times out. Nil for
	// simulated captures.
	Handle *correlator.Handle
}

// RunModelRequest asks for an inference.
type RunModelRequest struct {
	ImageB64      string
	DeviceName    string
	ReplySocketID string
	Params        map[string]interface{}
}

// RunModelResult is either an accepted device request or a synchronous
// inference.
type RunModelResult struct {
	RequestID string
	Accepted  bool
	Device    string
	Result    *models.InferenceResult
	Handle    *correlator.Handle
}

func (d *Dispatcher) target(socketID string) correlator.Target {
	if socketID == "" || d.deps.Targets == nil {
		return nil
	}
	t, ok := d.deps.Targets.Target(socketID)
	if !ok {
		logging.Debug().Str("socket_id", socketID).Msg("reply socket not connected, reply will only be broadcast")
		return nil
	}
	return t
}

// Capture sends a capture command to a device, or simulates one.
func (d *Dispatcher) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	dev, ok := d.deps.Devices.Resolve(req.DeviceName)
	if !ok {
		if !d.cfg.Simulate {
			metrics.RecordDispatch(EventCapture, "no_device")
			return CaptureResult{}, ErrNoDeviceConnected
		}
		return d.simulateCapture(ctx, req), nil
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	requestID := uuid.New().String()
	h, err := d.send(ctx, dev, requestID, EventCapture, EventPhoto, req.ReplySocketID,
		map[string]interface{}{"requestId": requestID, "metadata": metadata})
	if err != nil {
		return CaptureResult{}, err
	}
	return CaptureResult{RequestID: requestID, Accepted: true, Device: dev.Name, Handle: h}, nil
}

// send registers a pending request and emits command to dev. On emit
// failure the pending entry is removed.
func (d *Dispatcher) send(ctx context.Context, dev devices.Device, requestID, command, replyEvent, replySocket string, payload interface{}) (*correlator.Handle, error) {
	h, err := d.deps.Correlator.Create(requestID, replyEvent, d.target(replySocket), d.cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("track %s request: %w", command, err)
	}

	if err := dev.Conn.Emit(command, payload); err != nil {
		d.deps.Correlator.Cancel(requestID, ErrDeviceUnreachable)
		metrics.RecordDispatch(command, "unreachable")
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("device", dev.Name).
			Str("request_id", requestID).
			Msgf("failed to send %s to device", command)
		return nil, ErrDeviceUnreachable
	}

	metrics.RecordDispatch(command, "device")
	logging.Ctx(ctx).Info().
		Str("device", dev.Name).
		Str("request_id", requestID).
		Str("reply_socket", replySocket).
		Msgf("%s dispatched to device", command)
	return h, nil
}

func (d *Dispatcher) simulateCapture(ctx context.Context, req CaptureRequest) CaptureResult {
	image := placeholderPNG
	if d.deps.Capturer != nil {
		captured, err := d.deps.Capturer.Capture(ctx)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("local capture failed, using placeholder image")
		} else if len(captured) > 0 {
			image = captured
		}
	}

	res := CaptureResult{
		RequestID: uuid.New().String(),
		Simulated: true,
		ImageB64:  base64.StdEncoding.EncodeToString(image),
		Device:    SimulatedDevice,
	}
	metrics.RecordDispatch(EventCapture, "simulated")

	if t := d.target(req.ReplySocketID); t != nil {
		payload := map[string]interface{}{
			"requestId":   res.RequestID,
			"imageBase64": res.ImageB64,
			"device":      SimulatedDevice,
			"simulated":   true,
		}
		if err := t.Emit(EventPhoto, payload); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("failed to send simulated photo to reply socket")
		}
	}
	return res
}

// RunModel runs an inference by the precedence documented on the package.
func (d *Dispatcher) RunModel(ctx context.Context, req RunModelRequest) (RunModelResult, error) {
	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}

	if req.ImageB64 != "" {
		payload := make(map[string]interface{}, len(params)+1)
		for k, v := range params {
			payload[k] = v
		}
		payload["image_b64"] = req.ImageB64
		return d.inferLocally(ctx, "inline", req.ReplySocketID, payload)
	}

	if dev, ok := d.deps.Devices.Resolve(req.DeviceName); ok {
		requestID := uuid.New().String()
		h, err := d.send(ctx, dev, requestID, EventRunModel, EventModelResult, req.ReplySocketID,
			map[string]interface{}{"requestId": requestID, "params": params})
		if err != nil {
			return RunModelResult{}, err
		}
		return RunModelResult{RequestID: requestID, Accepted: true, Device: dev.Name, Handle: h}, nil
	}

	return d.inferLocally(ctx, "model_service", req.ReplySocketID, params)
}

func (d *Dispatcher) inferLocally(ctx context.Context, route, replySocket string, payload map[string]interface{}) (RunModelResult, error) {
	if d.deps.Model == nil {
		metrics.RecordDispatch(EventRunModel, "no_model")
		return RunModelResult{}, ErrNoDeviceConnected
	}

	result, err := d.deps.Model.Infer(ctx, payload)
	if err != nil {
		metrics.RecordDispatch(EventRunModel, route+"_failed")
		return RunModelResult{}, err
	}
	metrics.RecordDispatch(EventRunModel, route)

	requestID := uuid.New().String()
	result.RequestID = requestID

	if t := d.target(replySocket); t != nil {
		if err := t.Emit(EventModelResult, result); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("failed to send model result to reply socket")
		}
	}
	return RunModelResult{RequestID: requestID, Result: &result}, nil
}
