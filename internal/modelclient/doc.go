// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

/*
Package modelclient calls the external model-inference service.

Every HTTP attempt runs through a gobreaker circuit breaker named
"model-service". An open breaker rejects the attempt without touching the
network, and the rejection counts as a failed try. Attempts are sequential:

	try 0, sleep base, try 1, sleep 2*base, try 2, ...

with no sleep after the last try. When every try fails, or no endpoint is
configured, the client returns a mock result (Source "mock") unless the
mock fallback is disabled, in which case it returns
ErrModelServiceUnavailable.

Metrics:
  - model_service_attempts_total{result}
  - model_service_results_total{source}
  - circuit_breaker_state{name="model-service"}
*/
package modelclient
