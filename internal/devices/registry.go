// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

// Package devices tracks which capture devices are connected and under
// which names.
//
// A device name maps to at most one live connection. Registering a name
// that is already mapped replaces the old connection (last write wins).
// Unregistering a connection removes every name that points at it.
package devices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/metrics"
	"github.com/tomtom215/binrelay/internal/validation"
)

var (
	// ErrInvalidToken is returned when the allow-list is non-empty and the
	// presented token is not on it.
	ErrInvalidToken = errors.New("invalid_token")

	// ErrNameRequired is returned when a device registers without a name.
	ErrNameRequired = errors.New("name_required")

	// ErrInvalidName is returned for a name the HTTP API could not address.
	ErrInvalidName = errors.New("invalid_name")
)

// Conn is a live bidirectional connection a device is reachable on.
type Conn interface {
	ID() string
	Emit(event string, data interface{}) error
}

// Device is a registered name and the connection currently serving it.
type Device struct {
	Name         string
	Conn         Conn
	RegisteredAt time.Time
}

// Registry maps device names to connections. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]Device
	order     []string // registration order; a re-registered name keeps its slot
	preferred string
	tokens    *Allowlist
	now       func() time.Time
}

// NewRegistry creates a registry. preferred, when non-empty, is resolved
// ahead of the first-registered device. tokens may be nil for open mode.
func NewRegistry(preferred string, tokens *Allowlist) *Registry {
	if tokens == nil {
		tokens = NewAllowlist()
	}
	return &Registry{
		byName:    make(map[string]Device),
		preferred: preferred,
		tokens:    tokens,
		now:       time.Now,
	}
}

// Register maps name to conn after checking token against the allow-list.
// It returns the connection that previously held name, if any.
func (r *Registry) Register(ctx context.Context, name string, conn Conn, token string) (Conn, error) {
	if name == "" {
		metrics.DeviceRegistrations.WithLabelValues("invalid_name").Inc()
		return nil, ErrNameRequired
	}
	if !validation.ValidDeviceName(name) {
		metrics.DeviceRegistrations.WithLabelValues("invalid_name").Inc()
		return nil, ErrInvalidName
	}

	if err := r.tokens.Check(ctx, token); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			metrics.DeviceRegistrations.WithLabelValues("invalid_token").Inc()
		} else {
			metrics.DeviceRegistrations.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	r.mu.Lock()
	prev, existed := r.byName[name]
	r.byName[name] = Device{Name: name, Conn: conn, RegisteredAt: r.now()}
	if !existed {
		r.order = append(r.order, name)
	}
	count := len(r.byName)
	r.mu.Unlock()

	metrics.DeviceRegistrations.WithLabelValues("success").Inc()
	metrics.DevicesRegistered.Set(float64(count))

	if existed && prev.Conn.ID() != conn.ID() {
		logging.Ctx(ctx).Info().
			Str("device", name).
			Str("previous_socket", prev.Conn.ID()).
			Str("socket", conn.ID()).
			Msg("device name re-registered on a new connection")
		return prev.Conn, nil
	}
	return nil, nil
}

// Unregister removes every name mapped to conn and returns those names in
// registration order.
func (r *Registry) Unregister(conn Conn) []string {
	id := conn.ID()

	r.mu.Lock()
	var removed []string
	kept := r.order[:0]
	for _, name := range r.order {
		if dev := r.byName[name]; dev.Conn.ID() == id {
			delete(r.byName, name)
			removed = append(removed, name)
			continue
		}
		kept = append(kept, name)
	}
	r.order = kept
	count := len(r.byName)
	r.mu.Unlock()

	if len(removed) > 0 {
		metrics.DevicesRegistered.Set(float64(count))
	}
	return removed
}

// Resolve picks the device to send a command to:
//  1. explicit, if non-empty and registered
//  2. the configured preferred name, if registered
//  3. the first registered device still present
//
// It returns false when no device is registered.
func (r *Registry) Resolve(explicit string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if explicit != "" {
		if dev, ok := r.byName[explicit]; ok {
			return dev, true
		}
	}
	if r.preferred != "" {
		if dev, ok := r.byName[r.preferred]; ok {
			return dev, true
		}
	}
	if len(r.order) > 0 {
		return r.byName[r.order[0]], true
	}
	return Device{}, false
}

// Lookup returns the device registered under name.
func (r *Registry) Lookup(name string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.byName[name]
	return dev, ok
}

// Snapshot returns all registered devices in registration order.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Count returns the number of registered names.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Authorize checks a device token against the allow-list without
// registering anything. HTTP routes that accept device uploads use it.
func (r *Registry) Authorize(ctx context.Context, token string) error {
	if err := r.tokens.Check(ctx, token); err != nil {
		return fmt.Errorf("authorize device: %w", err)
	}
	return nil
}
