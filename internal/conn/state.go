// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

// State is the connection lifecycle state. Exactly one State exists per
// Manager; it is mutated only by the manager itself, never by callers.
type State int

const (
	// StateDisconnected is the idle state, before Connect or after
	// Disconnect.
	StateDisconnected State = iota

	// StateFetchingToken means a token exchange is in flight. Connecting
	// from Disconnected always passes through here; no transition skips
	// the token fetch.
	StateFetchingToken

	// StateOpening means the socket handshake is in flight.
	StateOpening

	// StateOpen means the socket is established and events are flowing.
	StateOpen

	// StateReconnecting means a dropped connection is waiting out its
	// backoff delay before the next token fetch.
	StateReconnecting

	// StateFailed is terminal for the session: authentication was
	// refused or the reconnect schedule ran out. Only an explicit
	// Connect leaves this state.
	StateFailed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateFetchingToken:
		return "fetching_token"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
