// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

// Package correlator matches asynchronous device replies to the request
// that caused them.
//
// Every dispatched command gets a pending entry keyed by request id. The
// entry is terminated exactly once, either by the device reply (Resolve),
// by its timer (Fail with ErrDeviceTimeout) or by Cancel. Whichever caller
// removes the entry from the map under the mutex wins; every later attempt
// is a no-op that returns false.
package correlator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/metrics"
)

// DefaultTimeout is used when New is given a non-positive timeout.
const DefaultTimeout = 20 * time.Second

var (
	// ErrDeviceTimeout is the outcome of a request whose device never replied.
	ErrDeviceTimeout = errors.New("device_timeout")

	// ErrDuplicateRequest is returned by Create for an id that is still pending.
	ErrDuplicateRequest = errors.New("duplicate_request")

	// ErrClosed is returned by Create after Shutdown.
	ErrClosed = errors.New("correlator_closed")
)

// Target receives the reply for a pending request. A nil Target is allowed;
// the outcome is then only observable through the Handle.
type Target interface {
	Emit(event string, data interface{}) error
}

// Outcome is the terminal result of a pending request.
type Outcome struct {
	Payload json.RawMessage
	Err     error
}

// Handle is the one-shot completion of a pending request.
type Handle struct {
	RequestID string
	Event     string
	done      chan Outcome
}

// Done returns a channel that receives exactly one Outcome.
func (h *Handle) Done() <-chan Outcome {
	return h.done
}

// Wait blocks until the request completes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case out := <-h.done:
		return out.Payload, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type entry struct {
	handle    *Handle
	target    Target
	createdAt time.Time
	timer     *time.Timer
}

// Correlator tracks pending requests. It is safe for concurrent use.
type Correlator struct {
	mu             sync.Mutex
	pending        map[string]*entry
	defaultTimeout time.Duration
	closed         bool
}

// New creates a Correlator whose entries expire after defaultTimeout unless
// Create is given its own timeout.
func New(defaultTimeout time.Duration) *Correlator {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Correlator{
		pending:        make(map[string]*entry),
		defaultTimeout: defaultTimeout,
	}
}

// Create registers a pending request. Replies to it are delivered to target
// under event. timeout <= 0 selects the default.
func (c *Correlator) Create(requestID, event string, target Target, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	h := &Handle{RequestID: requestID, Event: event, done: make(chan Outcome, 1)}
	e := &entry{handle: h, target: target, createdAt: time.Now()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := c.pending[requestID]; exists {
		c.mu.Unlock()
		return nil, ErrDuplicateRequest
	}
	c.pending[requestID] = e
	// Armed under the lock so expire never observes a nil timer.
	e.timer = time.AfterFunc(timeout, func() { c.expire(requestID, e) })
	n := len(c.pending)
	c.mu.Unlock()

	metrics.PendingRequests.Set(float64(n))
	return h, nil
}

// take removes and returns the entry for id, or nil if it is gone.
func (c *Correlator) take(id string) *entry {
	c.mu.Lock()
	e, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		e.timer.Stop()
	}
	n := len(c.pending)
	c.mu.Unlock()

	if ok {
		metrics.PendingRequests.Set(float64(n))
		return e
	}
	return nil
}

// expire is the timer callback. It only fires for the exact entry it was
// armed for, so a recycled request id is never expired early.
func (c *Correlator) expire(id string, armed *entry) {
	c.mu.Lock()
	e, ok := c.pending[id]
	if !ok || e != armed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	n := len(c.pending)
	c.mu.Unlock()

	metrics.PendingRequests.Set(float64(n))
	c.fail(e, ErrDeviceTimeout)
}

// Resolve delivers payload to the request's target and completes its
// handle. It returns false when id is not pending.
func (c *Correlator) Resolve(id string, payload json.RawMessage) bool {
	found, _ := c.ResolveReply(id, payload)
	return found
}

// ResolveReply is Resolve that also reports whether the payload reached a
// target. delivered is false for entries created without a target or when
// the target's Emit failed; the caller is then responsible for any
// fallback delivery.
func (c *Correlator) ResolveReply(id string, payload json.RawMessage) (found, delivered bool) {
	if id == "" {
		return false, false
	}
	e := c.take(id)
	if e == nil {
		metrics.RecordCorrelatorOutcome("unknown", 0)
		return false, false
	}

	metrics.RecordCorrelatorOutcome("resolved", time.Since(e.createdAt))
	delivered = c.deliver(e, e.handle.Event, payload)
	e.handle.done <- Outcome{Payload: payload}
	return true, delivered
}

// Fail terminates the request with cause, sending
// {requestId, error} to its target. It returns false when id is not pending.
func (c *Correlator) Fail(id string, cause error) bool {
	e := c.take(id)
	if e == nil {
		return false
	}
	c.fail(e, cause)
	return true
}

func (c *Correlator) fail(e *entry, cause error) {
	if cause == nil {
		cause = ErrDeviceTimeout
	}
	outcome := "failed"
	if errors.Is(cause, ErrDeviceTimeout) {
		outcome = "timeout"
	}
	metrics.RecordCorrelatorOutcome(outcome, time.Since(e.createdAt))

	logging.Warn().
		Str("request_id", e.handle.RequestID).
		Str("event", e.handle.Event).
		Err(cause).
		Msg("pending device request failed")

	c.deliver(e, e.handle.Event, map[string]string{
		"requestId": e.handle.RequestID,
		"error":     cause.Error(),
	})
	e.handle.done <- Outcome{Err: cause}
}

// Cancel removes a pending request without notifying its target. The
// handle completes with err. It returns false when id is not pending.
func (c *Correlator) Cancel(id string, err error) bool {
	e := c.take(id)
	if e == nil {
		return false
	}
	metrics.RecordCorrelatorOutcome("canceled", 0)
	e.handle.done <- Outcome{Err: err}
	return true
}

func (c *Correlator) deliver(e *entry, event string, data interface{}) bool {
	if e.target == nil {
		return false
	}
	if err := e.target.Emit(event, data); err != nil {
		logging.Warn().
			Str("request_id", e.handle.RequestID).
			Str("event", event).
			Err(err).
			Msg("failed to deliver correlated reply")
		return false
	}
	return true
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Has reports whether id is pending.
func (c *Correlator) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Shutdown stops every timer and completes all outstanding handles with
// ErrClosed. Targets are not notified.
func (c *Correlator) Shutdown() {
	c.mu.Lock()
	c.closed = true
	entries := c.pending
	c.pending = make(map[string]*entry)
	c.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.handle.done <- Outcome{Err: ErrClosed}
	}
	metrics.PendingRequests.Set(0)
	if len(entries) > 0 {
		logging.Info().Int("count", len(entries)).Msg("dropped pending device requests on shutdown")
	}
}
