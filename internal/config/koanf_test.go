// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// TestDefaultConfig verifies that defaultConfig() returns the documented defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.IoT.RequestTimeoutMs != 20000 {
		t.Errorf("IoT.RequestTimeoutMs = %d, want 20000", cfg.IoT.RequestTimeoutMs)
	}
	if cfg.IoT.RequestTimeout() != 20*time.Second {
		t.Errorf("IoT.RequestTimeout() = %v, want 20s", cfg.IoT.RequestTimeout())
	}
	if cfg.IoT.SkipDeviceForwarding {
		t.Error("IoT.SkipDeviceForwarding should be false by default")
	}
	if cfg.Model.Timeout() != 15*time.Second {
		t.Errorf("Model.Timeout() = %v, want 15s", cfg.Model.Timeout())
	}
	if cfg.Model.Attempts != 3 {
		t.Errorf("Model.Attempts = %d, want 3", cfg.Model.Attempts)
	}
	if cfg.Model.BaseDelay() != 500*time.Millisecond {
		t.Errorf("Model.BaseDelay() = %v, want 500ms", cfg.Model.BaseDelay())
	}
	if !cfg.Model.MockFallback {
		t.Error("Model.MockFallback should be true by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"MODEL_SERVICE_URL", "model.service_url"},
		{"SKIP_DEVICE_FORWARDING", "iot.skip_device_forwarding"},
		{"IOT_REQUEST_TIMEOUT_MS", "iot.request_timeout_ms"},
		{"DEVICE_TOKENS", "iot.device_tokens"},
		{"DEVICE_TOKEN", "iot.device_token"},
		{"SOCKET_MAX_HTTP_BUFFER_BYTES", "iot.max_message_bytes"},
		{"HOME", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.key); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLoadWithKoanf_EnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Chdir(t.TempDir())
	t.Setenv("MODEL_SERVICE_URL", "http://model:8000/infer")
	t.Setenv("SKIP_DEVICE_FORWARDING", "true")
	t.Setenv("IOT_REQUEST_TIMEOUT_MS", "5000")
	t.Setenv("DEVICE_TOKENS", "alpha, beta")
	t.Setenv("DEVICE_TOKEN", "gamma,alpha")
	t.Setenv("SOCKET_MAX_HTTP_BUFFER_BYTES", "2048")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Model.ServiceURL != "http://model:8000/infer" {
		t.Errorf("Model.ServiceURL = %q", cfg.Model.ServiceURL)
	}
	if !cfg.IoT.SkipDeviceForwarding {
		t.Error("IoT.SkipDeviceForwarding should be true")
	}
	if cfg.IoT.RequestTimeout() != 5*time.Second {
		t.Errorf("IoT.RequestTimeout() = %v, want 5s", cfg.IoT.RequestTimeout())
	}
	if cfg.IoT.MaxMessageBytes != 2048 {
		t.Errorf("IoT.MaxMessageBytes = %d, want 2048", cfg.IoT.MaxMessageBytes)
	}
	want := []string{"alpha", "beta", "gamma"}
	if got := cfg.IoT.AllowedTokens(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllowedTokens() = %v, want %v", got, want)
	}
}

func TestLoadWithKoanf_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("iot:\n  preferred_device: raspi-1\nmodel:\n  attempts: 5\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.IoT.PreferredDevice != "raspi-1" {
		t.Errorf("IoT.PreferredDevice = %q, want raspi-1", cfg.IoT.PreferredDevice)
	}
	if cfg.Model.Attempts != 5 {
		t.Errorf("Model.Attempts = %d, want 5", cfg.Model.Attempts)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"zero request timeout", func(c *Config) { c.IoT.RequestTimeoutMs = 0 }, true},
		{"bad model url", func(c *Config) { c.Model.ServiceURL = "ftp://x" }, true},
		{"too many attempts", func(c *Config) { c.Model.Attempts = 11 }, true},
		{"tiny frame limit", func(c *Config) { c.IoT.MaxMessageBytes = 10 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"rate limit disabled skips bounds", func(c *Config) {
			c.Security.RateLimitDisabled = true
			c.Security.RateLimitReqs = 0
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
