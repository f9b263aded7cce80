// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package config

import (
	"fmt"
	"net/url"
	"time"
)

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateIoT(); err != nil {
		return err
	}
	if err := c.validateModel(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

// Rate limit bounds
const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

func (c *Config) validateSecurity() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < minRateLimitRequests || c.Security.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.Security.RateLimitWindow < minRateLimitWindow || c.Security.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

func (c *Config) validateIoT() error {
	if c.IoT.RequestTimeoutMs <= 0 {
		return fmt.Errorf("IOT_REQUEST_TIMEOUT_MS must be positive")
	}
	if c.IoT.MaxMessageBytes < 1024 {
		return fmt.Errorf("SOCKET_MAX_HTTP_BUFFER_BYTES must be at least 1024")
	}
	if c.IoT.MessageRate < 0 || c.IoT.MessageBurst < 0 {
		return fmt.Errorf("DEVICE_MESSAGE_RATE and DEVICE_MESSAGE_BURST must not be negative")
	}
	if c.IoT.SimulateCaptureCommand != "" && c.IoT.SimulateCaptureTimeoutMs <= 0 {
		return fmt.Errorf("SIMULATE_CAPTURE_TIMEOUT_MS must be positive when SIMULATE_CAPTURE_COMMAND is set")
	}
	return nil
}

func (c *Config) validateModel() error {
	if c.Model.ServiceURL != "" {
		u, err := url.Parse(c.Model.ServiceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("MODEL_SERVICE_URL must be an http(s) URL, got %q", c.Model.ServiceURL)
		}
	}
	if c.Model.Attempts < 1 || c.Model.Attempts > 10 {
		return fmt.Errorf("MODEL_ATTEMPTS must be between 1 and 10")
	}
	if c.Model.TimeoutMs <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT_MS must be positive")
	}
	if c.Model.BaseDelayMs < 0 {
		return fmt.Errorf("MODEL_BASE_DELAY_MS must not be negative")
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
	return nil
}
