// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

// Package relay routes device replies to whoever asked for them.
//
// A reply whose requestId is pending in the correlator goes point-to-point
// to the recorded reply target. Any other reply, including one for a
// request made without a reply socket, is broadcast to every connection,
// so dashboards that did not ask still see device output.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/binrelay/internal/correlator"
	"github.com/tomtom215/binrelay/internal/frames"
	"github.com/tomtom215/binrelay/internal/logging"
	"github.com/tomtom215/binrelay/internal/metrics"
	"github.com/tomtom215/binrelay/internal/models"
)

// Device event names.
const (
	EventPhoto       = "iot-photo"
	EventModelResult = "iot-model-result"
	EventStatsUpdate = "stats_update"
)

// Delivery says how a reply left the relay.
type Delivery string

const (
	DeliveryCorrelated Delivery = "correlated"
	DeliveryBroadcast  Delivery = "broadcast"
	DeliveryDropped    Delivery = "dropped"
)

// depositTimeout bounds the background deposit write.
const depositTimeout = 10 * time.Second

// Broadcaster sends an event to every connection.
type Broadcaster interface {
	BroadcastJSON(event string, data interface{})
}

// DepositRecorder persists a deposit and returns the updated aggregate.
type DepositRecorder interface {
	RecordDeposit(ctx context.Context, d models.Deposit) (models.Stats, error)
}

// Relay is safe for concurrent use.
type Relay struct {
	correlator  *correlator.Correlator
	broadcaster Broadcaster
	frames      *frames.Store
	deposits    DepositRecorder
	wg          sync.WaitGroup
}

// New creates a Relay. store and deposits may be nil.
func New(c *correlator.Correlator, b Broadcaster, store *frames.Store, deposits DepositRecorder) *Relay {
	return &Relay{correlator: c, broadcaster: b, frames: store, deposits: deposits}
}

// HandlePhoto routes an iot-photo payload and records its frame.
func (r *Relay) HandlePhoto(ctx context.Context, raw json.RawMessage) (Delivery, error) {
	reply, err := ParseDeviceReply(raw)
	if err != nil {
		return r.drop(ctx, EventPhoto, err)
	}

	if r.frames != nil && reply.DeviceID != "" && len(reply.Image) > 0 {
		r.frames.PutFrame(reply.DeviceID, reply.ImageB64, len(reply.Image))
	}
	return r.deliver(ctx, EventPhoto, reply), nil
}

// HandleModelResult routes an iot-model-result payload, records it as the
// device's latest result and, when it carries a positive weight, records
// a deposit in the background.
func (r *Relay) HandleModelResult(ctx context.Context, raw json.RawMessage) (Delivery, error) {
	reply, err := ParseDeviceReply(raw)
	if err != nil {
		return r.drop(ctx, EventModelResult, err)
	}

	if r.frames != nil && reply.DeviceID != "" {
		latest := reply.Result
		if latest == nil {
			latest = reply.Raw
		}
		r.frames.PutResult(reply.DeviceID, latest)
	}

	delivery := r.deliver(ctx, EventModelResult, reply)

	if reply.Weight > 0 && reply.Error == "" && r.deposits != nil {
		r.recordDeposit(reply)
	}
	return delivery, nil
}

func (r *Relay) drop(ctx context.Context, event string, err error) (Delivery, error) {
	metrics.RelayReplies.WithLabelValues(event, string(DeliveryDropped)).Inc()
	logging.Ctx(ctx).Warn().Str("event", event).Err(err).Msg("dropping malformed device reply")
	return DeliveryDropped, err
}

func (r *Relay) deliver(ctx context.Context, event string, reply DeviceReply) Delivery {
	// A pending entry without a reachable target still completes its
	// handle, but the reply itself falls back to a broadcast.
	delivery := DeliveryBroadcast
	if _, delivered := r.correlator.ResolveReply(reply.RequestID, reply.Raw); delivered {
		delivery = DeliveryCorrelated
	} else if r.broadcaster != nil {
		r.broadcaster.BroadcastJSON(event, reply.Raw)
	}

	metrics.RelayReplies.WithLabelValues(event, string(delivery)).Inc()
	logging.Ctx(ctx).Debug().
		Str("event", event).
		Str("request_id", reply.RequestID).
		Str("device", reply.DeviceID).
		Str("delivery", string(delivery)).
		Msg("relayed device reply")
	return delivery
}

func (r *Relay) recordDeposit(reply DeviceReply) {
	category := reply.Label
	if category == "" {
		category = "unknown"
	}
	deposit := models.Deposit{
		ID:         uuid.New().String(),
		DeviceID:   reply.DeviceID,
		Category:   category,
		Label:      reply.Label,
		Confidence: reply.Confidence,
		Amount:     reply.Weight,
		Points:     models.PointsFor(reply.Weight),
		CO2Saved:   models.CO2For(reply.Weight),
		CreatedAt:  time.Now().UTC(),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), depositTimeout)
		defer cancel()

		stats, err := r.deposits.RecordDeposit(ctx, deposit)
		if err != nil {
			metrics.DepositsRecorded.WithLabelValues("failure").Inc()
			logging.Warn().Err(err).Str("device", deposit.DeviceID).Msg("failed to record deposit")
			return
		}
		metrics.DepositsRecorded.WithLabelValues("success").Inc()
		if r.broadcaster != nil {
			r.broadcaster.BroadcastJSON(EventStatsUpdate, stats)
		}
	}()
}

// Wait blocks until background deposit writes have finished.
func (r *Relay) Wait() {
	r.wg.Wait()
}
