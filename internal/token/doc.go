// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package token exchanges session credentials for short-lived connection
// tokens.
//
// The chat backend requires a fresh token for every socket it accepts. The
// fetcher here performs that exchange over HTTP, is cancellable through
// its context (a fetch resolving after teardown must never be acted on),
// and maps credential rejection onto ErrUnauthorized so the connection
// layer can distinguish "retry" from "give up".
//
// Retry policy deliberately lives with the caller: the connection manager
// owns the backoff schedule, so a single fetch is a single HTTP request.
package token
