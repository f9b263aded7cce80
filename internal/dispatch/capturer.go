// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrNoImagePath is returned when the capture command prints nothing.
var ErrNoImagePath = errors.New("capture command printed no image path")

// CommandCapturer runs a shell command that captures a photo on the server
// host and prints the path of the image file as its last output line.
type CommandCapturer struct {
	Command string
	Timeout time.Duration
}

// Capture runs the command and returns the image file contents.
func (c CommandCapturer) Capture(ctx context.Context) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("run capture command: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	path := lastLine(string(out))
	if path == "" {
		return nil, ErrNoImagePath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read captured image: %w", err)
	}
	return data, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
