// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages and history.
//
// This package defines the message types exchanged with the chat backend,
// the capacity-bounded message history, and the bounded set of seen message
// IDs used to suppress duplicates across reconnects.
//
// # Key Types
//
//   - Message: a single chat message with role, content, and metadata
//   - Metadata: tagged variant for image and learning-content payloads
//   - History: ordered, capacity-bounded message list
//   - SeenSet: bounded insertion-ordered set of admitted message IDs
//
// History and SeenSet are not safe for concurrent use on their own; both
// are owned exclusively by a single conn.Manager which serializes access.
package model
