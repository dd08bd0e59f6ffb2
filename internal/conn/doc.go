// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conn implements the real-time chat connection manager.
//
// The Manager owns a persistent WebSocket to the chat backend and the full
// connection lifecycle around it: fetching a short-lived token, dialing,
// heartbeating, reassembling assistant replies from ordered chunks,
// deduplicating messages across reconnects, and recovering from transient
// failures with exponential backoff.
//
// # Key Types
//
//   - Manager: the connection state machine
//   - State: Disconnected, FetchingToken, Opening, Open, Reconnecting, Failed
//   - Socket / Dialer: transport abstraction (gorilla/websocket in production)
//   - RemoteError / QuotaError: structured terminal conditions
//
// # Ownership
//
// The socket, the in-progress assistant reply, the seen-ID set, and the
// message history are owned exclusively by one Manager. External callers
// observe read snapshots and invoke the public operations; they never
// mutate shared state directly. Every asynchronous continuation (token
// fetch, reconnect timer, socket callback) carries the generation it was
// started under and checks it before touching state, so a continuation
// resuming after Disconnect can never act on a stale session.
//
// # Usage
//
//	mgr := conn.NewManager(conn.Options{
//	    ServerURL:      "wss://chat.example.com/ws",
//	    ConversationID: "conv-1",
//	    Fetcher:        token.NewHTTPFetcher(endpoint, credential),
//	    Dialer:         conn.NewWebsocketDialer(),
//	    Logger:         logger,
//	})
//	mgr.SetHistoryCallback(render)
//	mgr.Connect()
//	defer mgr.Disconnect()
//
//	if err := mgr.Send("Hello"); err != nil { ... }
package conn
