// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

/*
Package supervisor runs the relay's long-lived services under a suture v4
supervisor tree.

	binrelay
	├── storage-layer
	│   └── IntervalService "token-store-gc" (when the token store is on disk)
	├── relay-layer
	│   └── WebSocketHubService
	└── api-layer
	    └── HTTPServerService

Crashed services restart with suture's backoff. Supervisor events are
logged through sutureslog using the zerolog-backed slog handler from
internal/logging.

Usage:

	tree, _ := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
	    ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddRelayService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	errCh := tree.ServeBackground(ctx)

Service wrappers live in the services subpackage.
*/
package supervisor
