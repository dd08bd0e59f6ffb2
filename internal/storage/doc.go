// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for chatwire.
//
// Conversations are stored one JSON file per conversation ID under the
// store's base directory. Writes go through an atomic write-and-rename
// so a crash never leaves a truncated file. A DebouncedSaver coalesces
// the per-chunk history churn of an active stream into roughly one
// write per second.
//
// # Key Types
//
//   - ConversationStore: save, load, list, search, delete
//   - StoredConversation: on-disk conversation shape
//   - DebouncedSaver: write coalescing for streaming updates
//
// # Usage
//
//	store, err := storage.NewConversationStore()
//	if err != nil {
//		return err
//	}
//	saver := storage.NewDebouncedSaver(store, logger)
//	saver.SetConversation("conv-1")
//	mgr.SetHistoryCallback(saver.Notify)
package storage
