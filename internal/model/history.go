// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages and history.
package model

// MaxMessages is the maximum number of messages kept in history.
// When exceeded, the oldest messages are dropped first to prevent
// unbounded memory growth.
const MaxMessages = 100

// =============================================================================
// HISTORY TYPE
// =============================================================================

// History is the ordered, capacity-bounded list of chat messages.
//
// Every externally observable mutation must pass its final message ID
// through SeenSet.Admit first; History itself only enforces ordering,
// the capacity bound, and ID uniqueness.
type History struct {
	msgs []*Message
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{msgs: make([]*Message, 0)}
}

// Len returns the number of messages.
func (h *History) Len() int {
	return len(h.msgs)
}

// Last returns the most recent message, or nil if empty.
func (h *History) Last() *Message {
	if len(h.msgs) == 0 {
		return nil
	}
	return h.msgs[len(h.msgs)-1]
}

// ByID returns the message with the given ID, or nil.
func (h *History) ByID(id string) *Message {
	for _, m := range h.msgs {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// =============================================================================
// MUTATION
// =============================================================================

// Append adds a message and trims from the front past MaxMessages.
// A message whose ID is already present is ignored; admission through
// the SeenSet is checked once at creation, not per append.
func (h *History) Append(m *Message) {
	if h.ByID(m.ID) != nil {
		return
	}
	h.msgs = append(h.msgs, m)
	h.trim()
}

// Upsert updates the message with m's ID in place, or appends it.
// Used for the in-progress assistant message, whose ID stays stable
// across all chunk updates.
func (h *History) Upsert(m *Message) {
	for i, existing := range h.msgs {
		if existing.ID == m.ID {
			h.msgs[i] = m
			return
		}
	}
	h.msgs = append(h.msgs, m)
	h.trim()
}

// ReplaceWhere atomically removes the first message matching pred and
// appends m. Used for placeholder replacement. Returns whether a match
// was removed.
func (h *History) ReplaceWhere(pred func(*Message) bool, m *Message) bool {
	removed := h.RemoveWhere(pred)
	h.Append(m)
	return removed
}

// RemoveWhere removes the first message matching pred.
func (h *History) RemoveWhere(pred func(*Message) bool) bool {
	for i, m := range h.msgs {
		if pred(m) {
			h.msgs = append(h.msgs[:i], h.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveID removes the message with the given ID.
func (h *History) RemoveID(id string) bool {
	return h.RemoveWhere(func(m *Message) bool { return m.ID == id })
}

// Clear drops all messages.
func (h *History) Clear() {
	h.msgs = make([]*Message, 0)
}

// Restore replaces the history with previously persisted messages,
// keeping only the most recent MaxMessages.
func (h *History) Restore(msgs []Message) {
	h.msgs = make([]*Message, 0, len(msgs))
	for i := range msgs {
		m := msgs[i]
		if h.ByID(m.ID) != nil {
			continue
		}
		h.msgs = append(h.msgs, &m)
	}
	h.trim()
}

// trim enforces the MaxMessages cap, dropping oldest first.
func (h *History) trim() {
	if len(h.msgs) <= MaxMessages {
		return
	}
	drop := len(h.msgs) - MaxMessages
	h.msgs = append(h.msgs[:0:0], h.msgs[drop:]...)
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot returns a value copy of the history for external observers.
// Callers never see the owned slice or shared pointers.
func (h *History) Snapshot() []Message {
	out := make([]Message, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = *m
	}
	return out
}
