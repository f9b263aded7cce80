// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package relay

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/tomtom215/binrelay/internal/devices"
	"github.com/tomtom215/binrelay/internal/logging"
	ws "github.com/tomtom215/binrelay/internal/websocket"
)

// Session events.
const (
	EventRegisterDevice     = "register_device"
	EventRegisterSuccess    = "register_success"
	EventRegisterError      = "register_error"
	EventDeviceRegistered   = "device-registered"
	EventDeviceDisconnected = "device-disconnected"
)

type registerRequest struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

type deviceNotice struct {
	Name     string `json:"name"`
	SocketID string `json:"socketId"`
}

// Bind wires device registration and device replies onto hub.
func Bind(hub *ws.Hub, registry *devices.Registry, r *Relay) {
	hub.On(EventRegisterDevice, func(ctx context.Context, c *ws.Client, data json.RawMessage) {
		handleRegister(ctx, hub, registry, c, data)
	})

	hub.On(EventPhoto, func(ctx context.Context, _ *ws.Client, data json.RawMessage) {
		_, _ = r.HandlePhoto(ctx, data)
	})

	hub.On(EventModelResult, func(ctx context.Context, _ *ws.Client, data json.RawMessage) {
		_, _ = r.HandleModelResult(ctx, data)
	})

	hub.OnDisconnect(func(c *ws.Client) {
		for _, name := range registry.Unregister(c) {
			logging.Info().Str("device", name).Str("socket_id", c.ID()).Msg("device disconnected")
			hub.BroadcastJSON(EventDeviceDisconnected, deviceNotice{Name: name, SocketID: c.ID()})
		}
	})
}

func handleRegister(ctx context.Context, hub *ws.Hub, registry *devices.Registry, c *ws.Client, data json.RawMessage) {
	var req registerRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			emitRegisterError(ctx, c, "invalid_payload")
			return
		}
	}

	if _, err := registry.Register(ctx, req.Name, c, req.Token); err != nil {
		code := "registration_failed"
		switch {
		case errors.Is(err, devices.ErrInvalidToken):
			code = devices.ErrInvalidToken.Error()
		case errors.Is(err, devices.ErrNameRequired):
			code = devices.ErrNameRequired.Error()
		case errors.Is(err, devices.ErrInvalidName):
			code = devices.ErrInvalidName.Error()
		default:
			logging.Ctx(ctx).Error().Err(err).Msg("device registration failed")
		}
		logging.Ctx(ctx).Warn().Str("device", req.Name).Str("reason", code).Msg("device registration rejected")
		emitRegisterError(ctx, c, code)
		return
	}

	logging.Ctx(ctx).Info().Str("device", req.Name).Msg("device registered")
	if err := c.Emit(EventRegisterSuccess, map[string]string{"name": req.Name}); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to acknowledge device registration")
	}
	hub.BroadcastJSON(EventDeviceRegistered, deviceNotice{Name: req.Name, SocketID: c.ID()})
}

func emitRegisterError(ctx context.Context, c *ws.Client, code string) {
	if err := c.Emit(EventRegisterError, map[string]string{"error": code}); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to send register_error")
	}
}
