// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

/*
Package websocket owns every live WebSocket connection to the server,
whether from a capture device or a browser dashboard.

Key Components:

  - Hub: owns the client set, routes inbound events to registered handlers
    and fans out broadcasts
  - Client: one connection with a read goroutine and a write goroutine
  - Message: the {"type", "data"} envelope used in both directions

Every frame is a JSON object:

	{"type": "register_device", "data": {"name": "raspi-1", "token": "..."}}

On connect the hub sends "connected" with the socket id, which browser
callers pass back as replySocketId so that device replies reach them:

	{"type": "connected", "data": {"socketId": "5b0c..."}}

Inbound "ping" is answered with "pong" by the hub itself. Every other event
type is dispatched to the HandlerFunc registered with Hub.On. Unknown
types are counted and dropped.

Client.Emit never blocks. A client whose send buffer is full when a
broadcast arrives is disconnected; a direct Emit to it returns
ErrSendBufferFull.

Usage:

	hub := websocket.NewHub(websocket.HubConfig{MaxMessageSize: 10 << 20})
	hub.On("register_device", handleRegister)
	hub.OnDisconnect(func(c *websocket.Client) { registry.Unregister(c) })
	go hub.RunWithContext(ctx)

	// in the /ws HTTP handler after upgrading:
	client := websocket.NewClient(hub, conn)
	hub.Register <- client
	client.Start()
*/
package websocket
