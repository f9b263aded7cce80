// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package devices

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
)

// TokenSource supplies additional allowed device tokens, for example from
// a persistent store that operators edit at runtime.
type TokenSource interface {
	Tokens(ctx context.Context) ([]string, error)
}

// Allowlist is the union of static tokens and any attached sources.
// An allow-list with no tokens at all admits every device.
type Allowlist struct {
	mu      sync.RWMutex
	static  []string
	sources []TokenSource
}

// NewAllowlist creates an allow-list seeded with static tokens.
func NewAllowlist(static ...string) *Allowlist {
	return &Allowlist{static: append([]string(nil), static...)}
}

// AddSource attaches a dynamic token source.
func (a *Allowlist) AddSource(src TokenSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources = append(a.sources, src)
}

// All returns every currently allowed token.
func (a *Allowlist) All(ctx context.Context) ([]string, error) {
	a.mu.RLock()
	tokens := append([]string(nil), a.static...)
	sources := append([]TokenSource(nil), a.sources...)
	a.mu.RUnlock()

	for _, src := range sources {
		more, err := src.Tokens(ctx)
		if err != nil {
			return nil, fmt.Errorf("load device tokens: %w", err)
		}
		tokens = append(tokens, more...)
	}
	return tokens, nil
}

// Check returns nil when the allow-list is empty or contains token.
// A source failure is returned as-is so that callers fail closed.
func (a *Allowlist) Check(ctx context.Context, token string) error {
	tokens, err := a.All(ctx)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}
	for _, allowed := range tokens {
		if subtle.ConstantTimeCompare([]byte(allowed), []byte(token)) == 1 {
			return nil
		}
	}
	return ErrInvalidToken
}
