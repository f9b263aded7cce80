// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

// Package frames keeps the latest camera frame and the latest model result
// reported by each device, and notifies subscribers when a new frame lands.
//
// Only the newest entry per device is kept. Subscriber notification never
// blocks: a subscriber whose channel is full misses that notice.
package frames

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Frame is the latest image reported by a device.
type Frame struct {
	DeviceID string `json:"device_id"`
	ImageB64 string `json:"frame"`
	Size     int    `json:"size"`
	TS       int64  `json:"ts"` // unix milliseconds
}

// Result is the latest model output reported by a device.
type Result struct {
	DeviceID string          `json:"device_id"`
	Result   json.RawMessage `json:"result"`
	TS       int64           `json:"ts"`
}

// Notice tells a subscriber that a device has a new frame.
type Notice struct {
	DeviceID string `json:"device_id"`
	Size     int    `json:"size"`
	TS       int64  `json:"ts"`
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	frames  map[string]Frame
	results map[string]Result
	subs    map[string]map[string]chan Notice
	now     func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		frames:  make(map[string]Frame),
		results: make(map[string]Result),
		subs:    make(map[string]map[string]chan Notice),
		now:     time.Now,
	}
}

// PutFrame records imageB64 as the newest frame for deviceID. size is the
// decoded image length in bytes.
func (s *Store) PutFrame(deviceID, imageB64 string, size int) Frame {
	f := Frame{DeviceID: deviceID, ImageB64: imageB64, Size: size, TS: s.now().UnixMilli()}

	n := Notice{DeviceID: deviceID, Size: size, TS: f.TS}

	// Sends happen under the lock so a concurrent unsubscribe cannot close
	// a channel mid-send.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[deviceID] = f
	for _, ch := range s.subs[deviceID] {
		select {
		case ch <- n:
		default:
		}
	}
	return f
}

// LatestFrame returns the newest frame for deviceID.
func (s *Store) LatestFrame(deviceID string) (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[deviceID]
	return f, ok
}

// PutResult records result as the newest model output for deviceID.
func (s *Store) PutResult(deviceID string, result json.RawMessage) Result {
	r := Result{DeviceID: deviceID, Result: result, TS: s.now().UnixMilli()}
	s.mu.Lock()
	s.results[deviceID] = r
	s.mu.Unlock()
	return r
}

// LatestResult returns the newest model output for deviceID.
func (s *Store) LatestResult(deviceID string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[deviceID]
	return r, ok
}

// Subscribe returns a channel of new-frame notices for deviceID and a
// function that unsubscribes and closes it.
func (s *Store) Subscribe(deviceID string, buffer int) (<-chan Notice, func()) {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.New().String()
	ch := make(chan Notice, buffer)

	s.mu.Lock()
	if s.subs[deviceID] == nil {
		s.subs[deviceID] = make(map[string]chan Notice)
	}
	s.subs[deviceID][id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[deviceID], id)
			if len(s.subs[deviceID]) == 0 {
				delete(s.subs, deviceID)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions for deviceID.
func (s *Store) Subscribers(deviceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[deviceID])
}
