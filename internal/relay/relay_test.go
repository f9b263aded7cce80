// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/binrelay/internal/correlator"
	"github.com/tomtom215/binrelay/internal/devices"
	"github.com/tomtom215/binrelay/internal/dispatch"
	"github.com/tomtom215/binrelay/internal/frames"
	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type sent struct {
	event string
	data  interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []sent
}

func (r *recorder) record(event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sent{event: event, data: data})
}

func (r *recorder) Emit(event string, data interface{}) error {
	r.record(event, data)
	return nil
}

func (r *recorder) BroadcastJSON(event string, data interface{}) {
	r.record(event, data)
}

func (r *recorder) snapshot() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.events...)
}

type fakeDeposits struct {
	mu       sync.Mutex
	deposits []models.Deposit
	err      error
}

func (f *fakeDeposits) RecordDeposit(_ context.Context, d models.Deposit) (models.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Stats{}, f.err
	}
	f.deposits = append(f.deposits, d)
	return models.Stats{TotalDeposits: int64(len(f.deposits)), TotalEwaste: d.Amount}, nil
}

func newTestRelay(deposits DepositRecorder) (*Relay, *correlator.Correlator, *recorder, *frames.Store) {
	c := correlator.New(time.Minute)
	b := &recorder{}
	store := frames.NewStore()
	return New(c, b, store, deposits), c, b, store
}

func TestHandlePhoto_CorrelatedDelivery(t *testing.T) {
	r, c, broadcast, store := newTestRelay(nil)
	target := &recorder{}
	if _, err := c.Create("req-1", EventPhoto, target, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	raw := json.RawMessage(`{"requestId":"req-1","imageBase64":"QUFBQQ==","device":"raspi-1"}`)
	delivery, err := r.HandlePhoto(context.Background(), raw)
	if err != nil {
		t.Fatalf("HandlePhoto: %v", err)
	}
	if delivery != DeliveryCorrelated {
		t.Errorf("Expected correlated delivery, got %s", delivery)
	}

	got := target.snapshot()
	if len(got) != 1 || got[0].event != EventPhoto {
		t.Fatalf("Expected one iot-photo to the reply target, got %+v", got)
	}
	if len(broadcast.snapshot()) != 0 {
		t.Error("Expected no broadcast for a correlated reply")
	}

	f, ok := store.LatestFrame("raspi-1")
	if !ok || f.ImageB64 != "QUFBQQ==" || f.Size != 4 {
		t.Errorf("Expected frame to be stored, got %+v ok=%v", f, ok)
	}
}

func TestHandlePhoto_BroadcastFallback(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown request id", `{"requestId":"nobody","imageBase64":"QUFBQQ==","device":"raspi-1"}`},
		{"no request id", `{"imageBase64":"QUFBQQ==","device":"raspi-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, broadcast, _ := newTestRelay(nil)
			delivery, err := r.HandlePhoto(context.Background(), json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("HandlePhoto: %v", err)
			}
			if delivery != DeliveryBroadcast {
				t.Errorf("Expected broadcast delivery, got %s", delivery)
			}
			got := broadcast.snapshot()
			if len(got) != 1 || got[0].event != EventPhoto {
				t.Fatalf("Expected one broadcast iot-photo, got %+v", got)
			}
			if payload, ok := got[0].data.(json.RawMessage); !ok || string(payload) != tt.raw {
				t.Errorf("Expected raw payload broadcast unchanged, got %v", got[0].data)
			}
		})
	}
}

func TestHandlePhoto_InvalidPayloadDropped(t *testing.T) {
	r, _, broadcast, _ := newTestRelay(nil)
	delivery, err := r.HandlePhoto(context.Background(), json.RawMessage(`not json`))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Expected ErrInvalidPayload, got %v", err)
	}
	if delivery != DeliveryDropped {
		t.Errorf("Expected dropped, got %s", delivery)
	}
	if len(broadcast.snapshot()) != 0 {
		t.Error("Expected nothing broadcast for invalid payload")
	}
}

func TestHandlePhoto_NoDeviceSkipsFrameStore(t *testing.T) {
	r, _, _, store := newTestRelay(nil)
	_, _ = r.HandlePhoto(context.Background(), json.RawMessage(`{"imageBase64":"QUFBQQ=="}`))
	if _, ok := store.LatestFrame(""); ok {
		t.Error("Expected no frame stored without a device id")
	}
}

func TestHandleModelResult_StoresLatestResult(t *testing.T) {
	r, _, _, store := newTestRelay(nil)
	raw := json.RawMessage(`{"requestId":"x","device":"raspi-1","result":{"label":"phone","confidence":0.8}}`)
	if _, err := r.HandleModelResult(context.Background(), raw); err != nil {
		t.Fatalf("HandleModelResult: %v", err)
	}
	res, ok := store.LatestResult("raspi-1")
	if !ok {
		t.Fatal("Expected latest result stored")
	}
	if string(res.Result) != `{"label":"phone","confidence":0.8}` {
		t.Errorf("Expected nested result stored, got %s", res.Result)
	}
}

func TestHandleModelResult_RecordsDepositAndBroadcastsStats(t *testing.T) {
	deposits := &fakeDeposits{}
	r, _, broadcast, _ := newTestRelay(deposits)

	raw := json.RawMessage(`{"device":"raspi-1","result":{"label":"laptop","confidence":0.91},"weight":2.5}`)
	if _, err := r.HandleModelResult(context.Background(), raw); err != nil {
		t.Fatalf("HandleModelResult: %v", err)
	}
	r.Wait()

	deposits.mu.Lock()
	if len(deposits.deposits) != 1 {
		deposits.mu.Unlock()
		t.Fatalf("Expected 1 deposit, got %d", len(deposits.deposits))
	}
	d := deposits.deposits[0]
	deposits.mu.Unlock()

	if d.Category != "laptop" || d.DeviceID != "raspi-1" {
		t.Errorf("Unexpected deposit %+v", d)
	}
	if d.Points != 25 {
		t.Errorf("Expected 25 points for 2.5 kg, got %d", d.Points)
	}
	if d.CO2Saved != 6.25 {
		t.Errorf("Expected 6.25 kg CO2 saved, got %v", d.CO2Saved)
	}

	var statsEvents int
	for _, e := range broadcast.snapshot() {
		if e.event == EventStatsUpdate {
			statsEvents++
		}
	}
	if statsEvents != 1 {
		t.Errorf("Expected 1 stats_update broadcast, got %d", statsEvents)
	}
}

func TestHandleModelResult_DepositFailureIsSwallowed(t *testing.T) {
	deposits := &fakeDeposits{err: errors.New("db down")}
	r, _, broadcast, _ := newTestRelay(deposits)

	delivery, err := r.HandleModelResult(context.Background(), json.RawMessage(`{"device":"raspi-1","weight":1}`))
	if err != nil {
		t.Fatalf("HandleModelResult: %v", err)
	}
	r.Wait()
	if delivery != DeliveryBroadcast {
		t.Errorf("Expected broadcast delivery, got %s", delivery)
	}
	for _, e := range broadcast.snapshot() {
		if e.event == EventStatsUpdate {
			t.Error("Expected no stats_update after a failed deposit")
		}
	}
}

func TestHandleModelResult_NoWeightNoDeposit(t *testing.T) {
	deposits := &fakeDeposits{}
	r, _, _, _ := newTestRelay(deposits)

	for _, raw := range []string{
		`{"device":"raspi-1","result":{"label":"phone"}}`,
		`{"device":"raspi-1","weight":0}`,
		`{"device":"raspi-1","weight":-3}`,
		`{"device":"raspi-1","weight":2,"error":"scale fault"}`,
	} {
		_, _ = r.HandleModelResult(context.Background(), json.RawMessage(raw))
	}
	r.Wait()

	if len(deposits.deposits) != 0 {
		t.Errorf("Expected no deposits, got %d", len(deposits.deposits))
	}
}

type deviceConn struct {
	recorder
	id string
}

func (d *deviceConn) ID() string { return d.id }

func TestHandlePhoto_CaptureWithoutReplySocketIsBroadcast(t *testing.T) {
	r, c, broadcast, _ := newTestRelay(nil)
	registry := devices.NewRegistry("", nil)
	device := &deviceConn{id: "sock-device"}
	if _, err := registry.Register(context.Background(), "raspi-1", device, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := dispatch.New(dispatch.Config{}, dispatch.Deps{Devices: registry, Correlator: c})

	res, err := d.Capture(context.Background(), dispatch.CaptureRequest{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	raw := json.RawMessage(`{"requestId":"` + res.RequestID + `","imageBase64":"QUFBQQ==","device":"raspi-1"}`)
	delivery, err := r.HandlePhoto(context.Background(), raw)
	if err != nil {
		t.Fatalf("HandlePhoto: %v", err)
	}
	if delivery != DeliveryBroadcast {
		t.Errorf("Expected broadcast delivery, got %s", delivery)
	}
	got := broadcast.snapshot()
	if len(got) != 1 || got[0].event != EventPhoto {
		t.Fatalf("Expected one broadcast iot-photo, got %+v", got)
	}

	payload, err := res.Handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Expected the waiting caller to get the reply, got %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("Expected payload %s, got %s", raw, payload)
	}
	if c.Has(res.RequestID) {
		t.Error("Expected the pending entry to be cleared")
	}
}

func TestHandleModelResult_UnreachableTargetFallsBackToBroadcast(t *testing.T) {
	r, c, broadcast, _ := newTestRelay(nil)
	if _, err := c.Create("req-gone", EventModelResult, failingTarget{}, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	delivery, err := r.HandleModelResult(context.Background(), json.RawMessage(`{"requestId":"req-gone","label":"phone"}`))
	if err != nil {
		t.Fatalf("HandleModelResult: %v", err)
	}
	if delivery != DeliveryBroadcast {
		t.Errorf("Expected broadcast delivery, got %s", delivery)
	}
	if got := broadcast.snapshot(); len(got) != 1 || got[0].event != EventModelResult {
		t.Errorf("Expected one broadcast iot-model-result, got %+v", got)
	}
}

type failingTarget struct{}

func (failingTarget) Emit(string, interface{}) error { return errors.New("socket closed") }
