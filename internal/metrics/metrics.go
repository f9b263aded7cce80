// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

// Package metrics holds the Prometheus collectors for BinRelay.
//
// Collectors are registered on the default registry through promauto and
// exposed by the API layer at /metrics. Instrumented areas:
//   - HTTP API latency and throughput
//   - WebSocket connections and message volume
//   - Device registry size and registration results
//   - Request correlator outcomes
//   - Model-service attempts, results and circuit breaker state
//   - Deposit recording
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of API requests currently being served",
		},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_received_total",
			Help: "Total number of WebSocket messages received",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"}, // decode, rate_limited, send_buffer_full, unknown_event
	)

	// Device Registry Metrics
	DevicesRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devices_registered",
			Help: "Current number of registered device names",
		},
	)

	DeviceRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_registrations_total",
			Help: "Total number of device registration attempts",
		},
		[]string{"result"}, // success, invalid_token, invalid_name, error
	)

	// Correlator Metrics
	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "correlator_pending_requests",
			Help: "Current number of dispatched requests awaiting a device reply",
		},
	)

	CorrelatorOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlator_outcomes_total",
			Help: "Outcomes of correlated device requests",
		},
		[]string{"outcome"}, // resolved, timeout, canceled, unknown
	)

	CorrelatorLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "correlator_reply_latency_seconds",
			Help:    "Time between dispatch and device reply",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
	)

	// Dispatch Metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "Capture and run-model dispatches by route taken",
		},
		[]string{"operation", "route"}, // route: device, simulated, inline, model_service, no_device, unreachable
	)

	// Relay Metrics
	RelayReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_replies_total",
			Help: "Device replies by event and delivery mode",
		},
		[]string{"event", "delivery"}, // delivery: correlated, broadcast, dropped
	)

	DepositsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_recorded_total",
			Help: "Deposit records written from device model results",
		},
		[]string{"result"}, // success, failure
	)

	// Model Service Metrics
	ModelServiceAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_service_attempts_total",
			Help: "Individual model-service HTTP attempts",
		},
		[]string{"result"}, // success, failure, timeout, rejected
	)

	ModelServiceResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_service_results_total",
			Help: "Final model inference results by source",
		},
		[]string{"source"}, // server, mock, error
	)

	ModelServiceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_service_request_duration_seconds",
			Help:    "Duration of individual model-service attempts",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordCorrelatorOutcome counts a terminal outcome for a pending request.
// age is the time since dispatch; it is observed only for resolved replies.
func RecordCorrelatorOutcome(outcome string, age time.Duration) {
	CorrelatorOutcomes.WithLabelValues(outcome).Inc()
	if outcome == "resolved" {
		CorrelatorLatency.Observe(age.Seconds())
	}
}

// RecordDispatch counts a capture or run-model dispatch by the route it took.
func RecordDispatch(operation, route string) {
	DispatchTotal.WithLabelValues(operation, route).Inc()
}

// RecordModelAttempt records one model-service HTTP attempt.
func RecordModelAttempt(result string, duration time.Duration) {
	ModelServiceAttempts.WithLabelValues(result).Inc()
	if result != "rejected" {
		ModelServiceDuration.Observe(duration.Seconds())
	}
}
