// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"errors"

	"github.com/jeranaias/chatwire/internal/protocol"
)

// Error variables for the connection-level error taxonomy.
var (
	// ErrAuthRequired indicates the backend refused the session (close
	// code 4001 or a rejected token). Terminal: no reconnect is scheduled.
	ErrAuthRequired = errors.New("authentication required")

	// ErrMaxAttempts indicates the reconnect schedule was exhausted.
	// Terminal until the caller invokes Connect again; the manager never
	// self-heals past this point.
	ErrMaxAttempts = errors.New("reconnect attempts exhausted")

	// ErrSendFailed indicates a synchronous failure writing a message
	// frame to an open socket.
	ErrSendFailed = errors.New("message send failed")

	// ErrMessageTooLong indicates local validation rejected the message
	// before it reached the network.
	ErrMessageTooLong = errors.New("message exceeds maximum length")

	// ErrRateLimited indicates the outbound send limiter rejected the
	// network write. The optimistic local insert has already happened.
	ErrRateLimited = errors.New("send rate limit exceeded")
)

// RemoteError carries a server-reported generation failure verbatim.
// When it arrives, the in-progress assistant reply has already been
// discarded: a half-formed answer is worse than no answer.
type RemoteError struct {
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return "server error: " + e.Message
}

// QuotaError reports usage-allowance exhaustion with enough structure for
// the caller to render a paywall: plan tier, usage counters, token
// balance, purchase eligibility, and an upgrade link.
type QuotaError struct {
	Reason            string
	Subscription      protocol.Subscription
	CanPurchaseTokens bool
	UpgradeURL        string
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	if e.Reason == "" {
		return "quota exceeded"
	}
	return "quota exceeded: " + e.Reason
}
