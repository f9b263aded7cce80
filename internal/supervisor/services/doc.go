// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

/*
Package services adapts relay components to suture.Service.

  - HTTPServerService: ListenAndServe plus graceful Shutdown
  - WebSocketHubService: the relay hub's RunWithContext loop
  - IntervalService: periodic maintenance such as token store GC

Each wrapper depends on a small interface rather than the concrete
component, so the package imports neither internal/api nor
internal/websocket.
*/
package services
