// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

/*
Package api provides the HTTP surface of the relay using the Chi router.

Route groups:

	/api/health                 liveness and readiness
	/api/iot                    capture, run-model and device ingestion
	/api/admin/device-tokens    device token management (X-Admin-Token)
	/api/events, /api/stats     deposit log
	/metrics                    Prometheus
	/ws                         WebSocket channel for devices and dashboards

Device ingestion routes (upload_frame, model_result) require an
X-Device-Token header accepted by the device allow-list when one is
configured.

Capture and run-model answer 202 with a requestId once the command reaches
a device; the reply arrives on the WebSocket of the requesting client. With
"wait": true in the body the handler instead blocks until the device
replies (200 with the device payload) or the request times out (504).

All error bodies have the shape:

	{"error": "<code>", "message": "<text>"}
*/
package api
