// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

// Package config loads BinRelay configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in values from defaultConfig()
//  2. Config File: optional YAML file (CONFIG_PATH or config.yaml)
//  3. Environment Variables: override any setting via the mapping table
//     in envTransformFunc
//
// Configuration Categories:
//   - Server: HTTP listener
//   - Logging: level and output format
//   - Security: CORS, rate limiting, admin token for token management
//   - IoT: device relay behavior (timeouts, simulate mode, token allow-list)
//   - Model: model-inference service client and fallback policy
//   - Database: DuckDB deposit log
//   - Tokens: BadgerDB-persisted device tokens
package config

import (
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig     `koanf:"server"`
	Logging  LoggingConfig    `koanf:"logging"`
	Security SecurityConfig   `koanf:"security"`
	IoT      IoTConfig        `koanf:"iot"`
	Model    ModelConfig      `koanf:"model"`
	Database DatabaseConfig   `koanf:"database"`
	Tokens   TokenStoreConfig `koanf:"tokens"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes file:line in every entry.
	Caller bool `koanf:"caller"`
}

// SecurityConfig holds HTTP hardening settings.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	// AdminToken guards the device token management routes. Empty disables
	// those routes entirely.
	AdminToken string `koanf:"admin_token"`
}

// IoTConfig holds device relay settings.
type IoTConfig struct {
	// RequestTimeoutMs bounds how long a dispatched capture or run_model
	// waits for the device reply (IOT_REQUEST_TIMEOUT_MS).
	RequestTimeoutMs int `koanf:"request_timeout_ms"`

	// SkipDeviceForwarding enables simulate mode: a capture with no device
	// connected returns a placeholder image instead of 503.
	SkipDeviceForwarding bool `koanf:"skip_device_forwarding"`

	// PreferredDevice is tried before the first-registered device when the
	// caller names none.
	PreferredDevice string `koanf:"preferred_device"`

	// DeviceTokens and DeviceToken together form the static allow-list.
	// Both empty (and no persisted tokens) means open registration.
	DeviceTokens []string `koanf:"device_tokens"`
	DeviceToken  string   `koanf:"device_token"`

	// MaxMessageBytes is the inbound WebSocket frame limit
	// (SOCKET_MAX_HTTP_BUFFER_BYTES).
	MaxMessageBytes int64 `koanf:"max_message_bytes"`

	// MessageRate and MessageBurst limit inbound events per connection.
	MessageRate  float64 `koanf:"message_rate"`
	MessageBurst int     `koanf:"message_burst"`

	// SimulateCaptureCommand, when set in simulate mode, is run through
	// the shell and must print the path of a captured image file.
	SimulateCaptureCommand   string `koanf:"simulate_capture_command"`
	SimulateCaptureTimeoutMs int    `koanf:"simulate_capture_timeout_ms"`
}

// RequestTimeout returns RequestTimeoutMs as a duration.
func (c IoTConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// SimulateCaptureTimeout returns SimulateCaptureTimeoutMs as a duration.
func (c IoTConfig) SimulateCaptureTimeout() time.Duration {
	return time.Duration(c.SimulateCaptureTimeoutMs) * time.Millisecond
}

// AllowedTokens merges DeviceTokens and the comma-separated DeviceToken,
// dropping blanks and duplicates.
func (c IoTConfig) AllowedTokens() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	for _, tok := range c.DeviceTokens {
		add(tok)
	}
	for _, tok := range strings.Split(c.DeviceToken, ",") {
		add(tok)
	}
	return out
}

// ModelConfig holds model-inference service client settings.
type ModelConfig struct {
	// ServiceURL is MODEL_SERVICE_URL. Empty means the mock is used directly.
	ServiceURL  string `koanf:"service_url"`
	TimeoutMs   int    `koanf:"timeout_ms"`
	Attempts    int    `koanf:"attempts"`
	BaseDelayMs int    `koanf:"base_delay_ms"`

	// MockFallback synthesizes a mock result when the service fails.
	// Disabled, callers receive model_service_unavailable instead.
	MockFallback bool `koanf:"mock_fallback"`

	// BreakerFailures is the consecutive failure count that opens the
	// circuit; BreakerTimeout is how long it stays open.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// Timeout returns TimeoutMs as a duration.
func (c ModelConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// BaseDelay returns BaseDelayMs as a duration.
func (c ModelConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// DatabaseConfig holds DuckDB settings for the deposit log.
type DatabaseConfig struct {
	// Path is the DuckDB file. Empty or ":memory:" keeps data in memory.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`

	// Disabled skips opening the deposit log; deposits are then not recorded.
	Disabled bool `koanf:"disabled"`
}

// TokenStoreConfig holds BadgerDB settings for persisted device tokens.
type TokenStoreConfig struct {
	Enabled bool `koanf:"enabled"`

	// Path is the Badger directory. Empty keeps tokens in memory.
	Path       string        `koanf:"path"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
