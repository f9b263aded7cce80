// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package services

import (
	"context"
	"time"

	"github.com/tomtom215/binrelay/internal/logging"
)

// IntervalService runs a maintenance task on a fixed interval, for example
// value-log GC of the device token store. A failing run is logged and the
// next tick tries again; the service itself only stops with ctx.
type IntervalService struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
}

// NewIntervalService creates a service that runs task every interval. A
// non-positive interval is treated as one minute.
func NewIntervalService(name string, interval time.Duration, task func(ctx context.Context) error) *IntervalService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &IntervalService{name: name, interval: interval, task: task}
}

// Serve implements suture.Service.
func (s *IntervalService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log := logging.WithComponent(s.name)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.task(ctx); err != nil {
				log.Warn().Err(err).Msg("maintenance task failed")
			}
		}
	}
}

// String names the service in supervisor events.
func (s *IntervalService) String() string {
	return s.name
}
