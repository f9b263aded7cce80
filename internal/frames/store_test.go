// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package frames

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestPutFrame_KeepsLatest(t *testing.T) {
	s := NewStore()
	s.PutFrame("raspi-1", "AAAA", 3)
	s.PutFrame("raspi-1", "BBBB", 3)

	f, ok := s.LatestFrame("raspi-1")
	if !ok {
		t.Fatal("Expected a frame for raspi-1")
	}
	if f.ImageB64 != "BBBB" {
		t.Errorf("Expected latest frame BBBB, got %s", f.ImageB64)
	}
	if _, ok := s.LatestFrame("other"); ok {
		t.Error("Expected no frame for unknown device")
	}
}

func TestPutResult_KeepsLatest(t *testing.T) {
	s := NewStore()
	s.PutResult("raspi-1", json.RawMessage(`{"label":"phone"}`))
	s.PutResult("raspi-1", json.RawMessage(`{"label":"battery"}`))

	r, ok := s.LatestResult("raspi-1")
	if !ok {
		t.Fatal("Expected a result for raspi-1")
	}
	if string(r.Result) != `{"label":"battery"}` {
		t.Errorf("Expected latest result battery, got %s", r.Result)
	}
}

func TestTimestampsAreUnixMillis(t *testing.T) {
	s := NewStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }
	ch, cancel := s.Subscribe("raspi-1", 1)
	defer cancel()

	f := s.PutFrame("raspi-1", "AAAA", 3)
	r := s.PutResult("raspi-1", json.RawMessage(`{}`))
	n := <-ch

	want := at.UnixMilli()
	if f.TS != want || r.TS != want || n.TS != want {
		t.Errorf("Expected ts %d everywhere, got frame=%d result=%d notice=%d", want, f.TS, r.TS, n.TS)
	}

	out, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(out), `"ts":1772366400000`) {
		t.Errorf("Expected millisecond ts in JSON, got %s", out)
	}
}

func TestSubscribe_NotifiesOnlyMatchingDevice(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe("raspi-1", 4)
	defer cancel()

	s.PutFrame("raspi-2", "XXXX", 3)
	s.PutFrame("raspi-1", "AAAA", 3)

	select {
	case n := <-ch:
		if n.DeviceID != "raspi-1" || n.Size != 3 {
			t.Errorf("Unexpected notice %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a notice")
	}
	select {
	case n := <-ch:
		t.Errorf("Expected no further notice, got %+v", n)
	default:
	}
}

func TestSubscribe_FullChannelDropsNotice(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe("raspi-1", 1)
	defer cancel()

	s.PutFrame("raspi-1", "A", 1)
	s.PutFrame("raspi-1", "B", 1) // must not block

	if len(ch) != 1 {
		t.Errorf("Expected 1 buffered notice, got %d", len(ch))
	}
}

func TestSubscribe_Cancel(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe("raspi-1", 1)
	if s.Subscribers("raspi-1") != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", s.Subscribers("raspi-1"))
	}

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed")
	}
	if s.Subscribers("raspi-1") != 0 {
		t.Errorf("Expected 0 subscribers, got %d", s.Subscribers("raspi-1"))
	}
	s.PutFrame("raspi-1", "A", 1)
}
