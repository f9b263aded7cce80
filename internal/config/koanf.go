// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/binrelay/config.yaml",
	"/etc/binrelay/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		IoT: IoTConfig{
			RequestTimeoutMs:         20000,
			SkipDeviceForwarding:     false,
			MaxMessageBytes:          10 << 20, // 10 MB, enough for a base64 JPEG frame
			MessageRate:              20,
			MessageBurst:             40,
			SimulateCaptureTimeoutMs: 15000,
		},
		Model: ModelConfig{
			TimeoutMs:       15000,
			Attempts:        3,
			BaseDelayMs:     500,
			MockFallback:    true,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/binrelay.duckdb",
			MaxMemory: "512MB",
		},
		Tokens: TokenStoreConfig{
			Enabled:    true,
			Path:       "/data/device-tokens",
			GCInterval: 10 * time.Minute,
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Defaults
//  2. Config file (optional)
//  3. Environment variables (highest priority)
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when they come
// from the environment.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"iot.device_tokens",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
// Names not listed here are ignored.
var envMappings = map[string]string{
	// Server
	"http_port":             "server.port",
	"port":                  "server.port",
	"http_host":             "server.host",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Security
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"admin_token":         "security.admin_token",

	// Device relay
	"iot_request_timeout_ms":       "iot.request_timeout_ms",
	"skip_device_forwarding":       "iot.skip_device_forwarding",
	"preferred_device":             "iot.preferred_device",
	"device_tokens":                "iot.device_tokens",
	"device_token":                 "iot.device_token",
	"socket_max_http_buffer_bytes": "iot.max_message_bytes",
	"device_message_rate":          "iot.message_rate",
	"device_message_burst":         "iot.message_burst",
	"simulate_capture_command":     "iot.simulate_capture_command",
	"simulate_capture_timeout_ms":  "iot.simulate_capture_timeout_ms",

	// Model service
	"model_service_url":      "model.service_url",
	"model_timeout_ms":       "model.timeout_ms",
	"model_attempts":         "model.attempts",
	"model_base_delay_ms":    "model.base_delay_ms",
	"model_mock_fallback":    "model.mock_fallback",
	"model_breaker_failures": "model.breaker_failures",
	"model_breaker_timeout":  "model.breaker_timeout",

	// Deposit log
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_disabled":   "database.disabled",

	// Persisted device tokens
	"token_store_enabled":     "tokens.enabled",
	"token_store_path":        "tokens.path",
	"token_store_gc_interval": "tokens.gc_interval",
}

// envTransformFunc transforms environment variable names to koanf paths.
//
// Examples:
//   - MODEL_SERVICE_URL -> model.service_url
//   - IOT_REQUEST_TIMEOUT_MS -> iot.request_timeout_ms
//   - SOCKET_MAX_HTTP_BUFFER_BYTES -> iot.max_message_bytes
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
