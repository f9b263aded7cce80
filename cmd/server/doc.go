// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

/*
Package main is the entry point for the BinRelay server.

BinRelay sits between campus e-waste bins (camera devices on the WebSocket
channel), dashboards and kiosks (HTTP and WebSocket clients) and an
optional model-inference service. It dispatches capture and run-model
commands to devices, routes each device reply back to the client that
asked for it, and records deposits in a DuckDB log.

# Supervisor Tree

	binrelay
	├── storage-layer
	│   └── token-store-gc (when TOKEN_STORE_PATH is set)
	├── relay-layer
	│   └── websocket-hub
	└── api-layer
	    └── http-server

# Configuration

Common environment variables:

	HTTP_PORT                 listen port (default 3000)
	IOT_REQUEST_TIMEOUT_MS    device reply timeout (default 20000)
	SKIP_DEVICE_FORWARDING    simulate captures when no device is connected
	PREFERRED_DEVICE          device tried first when a request names none
	DEVICE_TOKEN(S)           static device token allow-list
	MODEL_SERVICE_URL         model-inference endpoint; empty uses the mock
	MODEL_MOCK_FALLBACK       false to fail with 502 instead of mocking
	DUCKDB_PATH               deposit log file
	TOKEN_STORE_PATH          Badger directory for managed device tokens
	ADMIN_TOKEN               enables /api/admin/device-tokens

# Signal Handling

SIGINT and SIGTERM stop the tree: the HTTP server drains, pending device
requests fail with correlator_closed, the hub closes every socket, and the
stores are closed last.
*/
package main
