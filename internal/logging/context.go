// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	socketIDKey  contextKey = "socket_id"
)

// GenerateRequestID creates a new HTTP request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID returns a context carrying the HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the HTTP request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithSocketID returns a context carrying the WebSocket connection ID
// an inbound event arrived on.
func ContextWithSocketID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, socketIDKey, id)
}

// socketIDFromContext returns the WebSocket connection ID or "".
func socketIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(socketIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with request_id and socket_id fields taken from ctx.
//
//	logging.Ctx(ctx).Info().Msg("capture dispatched")
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := Logger().With()
	if id := RequestIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("request_id", id)
	}
	if id := socketIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("socket_id", id)
	}
	l := logCtx.Logger()
	return &l
}
