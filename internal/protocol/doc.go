// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the wire events exchanged with the chat backend.
//
// Inbound frames are JSON objects with an "event" discriminant. Parse maps
// each known discriminant to a concrete event type; frames with an unknown
// discriminant come back as Unknown so the caller can log and ignore them
// instead of silently mis-casting.
//
// Outbound frames are the user text frame {"message": ...} and the
// heartbeat ping {"type": "ping"}.
package protocol
