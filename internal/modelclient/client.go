// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package modelclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/binrelay/internal/config"
	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/metrics"
	"github.com/tomtom215/binrelay/internal/models"
)

// BreakerName labels the model-service circuit breaker in metrics.
const BreakerName = "model-service"

const (
	defaultTimeout         = 15 * time.Second
	defaultAttempts        = 3
	defaultBaseDelay       = 500 * time.Millisecond
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second

	// maxResponseBytes caps how much of a model-service reply is read.
	maxResponseBytes = 4 << 20
)

var (
	// ErrModelServiceUnavailable is returned when every attempt failed and
	// the mock fallback is disabled.
	ErrModelServiceUnavailable = errors.New("model_service_unavailable")

	// ErrTimedOut is returned by an attempt that exceeded the per-attempt
	// timeout.
	ErrTimedOut = errors.New("model service request timed out")

	errBadStatus = errors.New("model service returned error status")
	errNotObject = errors.New("model service returned a non-object body")
)

// Config controls the model-service client.
type Config struct {
	// URL is the inference endpoint. Empty skips the network entirely.
	URL string

	Timeout   time.Duration
	Attempts  int
	BaseDelay time.Duration

	// MockFallback answers with a synthesized result when the service
	// cannot. When false the caller gets ErrModelServiceUnavailable.
	MockFallback bool

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// ConfigFrom converts the loaded model configuration.
func ConfigFrom(c config.ModelConfig) Config {
	return Config{
		URL:             c.ServiceURL,
		Timeout:         c.Timeout(),
		Attempts:        c.Attempts,
		BaseDelay:       c.BaseDelay(),
		MockFallback:    c.MockFallback,
		BreakerFailures: c.BreakerFailures,
		BreakerTimeout:  c.BreakerTimeout,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithMock replaces the mock result generator.
func WithMock(m *Mock) Option {
	return func(c *Client) { c.mock = m }
}

// Client calls the model service with retries, a circuit breaker and an
// optional mock fallback. It is safe for concurrent use.
type Client struct {
	cfg   Config
	http  *http.Client
	cb    *gobreaker.CircuitBreaker[models.InferenceResult]
	sleep SleepFunc
	mock  *Mock
}

// New creates a Client. Zero config values take the defaults.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaultBreakerTimeout
	}

	c := &Client{
		cfg:   cfg,
		http:  &http.Client{},
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.mock == nil {
		c.mock = NewMock(nil)
	}

	metrics.CircuitBreakerState.WithLabelValues(BreakerName).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(BreakerName).Set(0)

	failures := cfg.BreakerFailures
	c.cb = gobreaker.NewCircuitBreaker[models.InferenceResult](gobreaker.Settings{
		Name:        BreakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= failures
			if trip {
				logging.Warn().Uint32("consecutive_failures", counts.ConsecutiveFailures).Msg("[CIRCUIT BREAKER] Opening model-service circuit")
			}
			return trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", stateToString(from)).Str("to", stateToString(to)).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})
	return c
}

// Enabled reports whether a model-service endpoint is configured.
func (c *Client) Enabled() bool {
	return c.cfg.URL != ""
}

// BreakerState returns the current circuit breaker state name.
func (c *Client) BreakerState() string {
	return stateToString(c.cb.State())
}

// Infer classifies payload. It tries the service up to Attempts times,
// sleeping BaseDelay*2^i between tries that reached the service, then
// falls back to a mock result if the policy allows it.
func (c *Client) Infer(ctx context.Context, payload map[string]interface{}) (models.InferenceResult, error) {
	if !c.Enabled() {
		return c.fallback(ctx, errors.New("no model service configured"))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.InferenceResult{}, fmt.Errorf("encode model payload: %w", err)
	}

	var lastErr error
	for i := 0; i < c.cfg.Attempts; i++ {
		res, err := c.attempt(ctx, body)
		if err == nil {
			metrics.ModelServiceResults.WithLabelValues(models.SourceServer).Inc()
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return models.InferenceResult{}, ctx.Err()
		}
		if i == c.cfg.Attempts-1 {
			break
		}
		// A rejected try made no call, so there is nothing to back off from.
		if errors.Is(err, gobreaker.ErrOpenState) {
			continue
		}

		delay := Backoff(c.cfg.BaseDelay, i)
		logging.Ctx(ctx).Warn().
			Err(err).
			Int("attempt", i+1).
			Dur("retry_in", delay).
			Msg("model service attempt failed")
		if err := c.sleep(ctx, delay); err != nil {
			return models.InferenceResult{}, err
		}
	}

	return c.fallback(ctx, lastErr)
}

// Backoff returns the delay after the zero-based attempt i.
func Backoff(base time.Duration, i int) time.Duration {
	return base * time.Duration(1<<uint(i))
}

func (c *Client) fallback(ctx context.Context, cause error) (models.InferenceResult, error) {
	if !c.cfg.MockFallback {
		metrics.ModelServiceResults.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Error().Err(cause).Msg("model service unavailable and mock fallback disabled")
		return models.InferenceResult{}, fmt.Errorf("%w: %w", ErrModelServiceUnavailable, cause)
	}
	if c.Enabled() {
		logging.Ctx(ctx).Warn().Err(cause).Msg("model service exhausted, returning mock result")
	}
	metrics.ModelServiceResults.WithLabelValues(models.SourceMock).Inc()
	return c.mock.Result(), nil
}

// attempt makes one call through the circuit breaker.
func (c *Client) attempt(ctx context.Context, body []byte) (models.InferenceResult, error) {
	start := time.Now()
	res, err := c.cb.Execute(func() (models.InferenceResult, error) {
		return c.post(ctx, body)
	})
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.RecordModelAttempt("success", elapsed)
		metrics.CircuitBreakerRequests.WithLabelValues(BreakerName, "success").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(BreakerName).Set(0)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordModelAttempt("rejected", elapsed)
		metrics.CircuitBreakerRequests.WithLabelValues(BreakerName, "rejected").Inc()
	default:
		result := "failure"
		if errors.Is(err, ErrTimedOut) {
			result = "timeout"
		}
		metrics.RecordModelAttempt(result, elapsed)
		metrics.CircuitBreakerRequests.WithLabelValues(BreakerName, "failure").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(BreakerName).Set(float64(c.cb.Counts().ConsecutiveFailures))
	}
	return res, err
}

func (c *Client) post(ctx context.Context, body []byte) (models.InferenceResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return models.InferenceResult{}, fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.InferenceResult{}, timeoutOr(ctx, attemptCtx, fmt.Errorf("model service request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.InferenceResult{}, timeoutOr(ctx, attemptCtx, fmt.Errorf("read model response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.InferenceResult{}, fmt.Errorf("%w: %d", errBadStatus, resp.StatusCode)
	}
	return decodeResult(data)
}

// timeoutOr maps a per-attempt deadline to ErrTimedOut. Cancellation of
// the caller's own context is passed through unchanged.
func timeoutOr(parent, attempt context.Context, err error) error {
	if parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return ErrTimedOut
	}
	return err
}

type serviceReply struct {
	Label      string   `json:"label"`
	Result     string   `json:"result"`
	Confidence *float64 `json:"confidence"`
	Error      string   `json:"error"`
	Device     string   `json:"device"`
}

// decodeResult accepts any JSON object. Known fields are lifted into the
// result and the whole body is kept as details.
func decodeResult(data []byte) (models.InferenceResult, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return models.InferenceResult{}, errNotObject
	}

	var reply serviceReply
	_ = json.Unmarshal(data, &reply)

	res := models.InferenceResult{
		Label:   reply.Label,
		Source:  models.SourceServer,
		Error:   reply.Error,
		Device:  reply.Device,
		Details: json.RawMessage(data),
	}
	if res.Label == "" {
		res.Label = reply.Result
	}
	if reply.Confidence != nil {
		res.Confidence = *reply.Confidence
	}
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
