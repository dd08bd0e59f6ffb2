// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages and history.
package model

// SeenCapacity is the maximum number of message IDs remembered for
// duplicate suppression. Oldest entries are evicted first when full, so
// an ID evicted long ago can be admitted again; bounded memory is
// preferred over correctness across unbounded history.
const SeenCapacity = 500

// SeenSet is a bounded, insertion-ordered set of admitted message IDs.
//
// It answers "have I already admitted this ID" across reconnects and
// duplicate sends. It is cleared entirely when the conversation changes
// or the owning manager is torn down.
type SeenSet struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

// NewSeenSet creates a SeenSet with the default capacity.
func NewSeenSet() *SeenSet {
	return NewSeenSetWithCapacity(SeenCapacity)
}

// NewSeenSetWithCapacity creates a SeenSet with a custom capacity.
// A capacity below 1 is treated as 1.
func NewSeenSetWithCapacity(capacity int) *SeenSet {
	if capacity < 1 {
		capacity = 1
	}
	return &SeenSet{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// Admit records the ID and reports whether it was newly admitted.
// A false return means the ID was already seen and no insert should
// happen. Admitting past capacity evicts the oldest entry.
func (s *SeenSet) Admit(id string) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.seen, oldest)
	}
	s.order = append(s.order, id)
	s.seen[id] = struct{}{}
	return true
}

// Len returns the number of recorded IDs.
func (s *SeenSet) Len() int {
	return len(s.order)
}

// Reset forgets all recorded IDs. Distinct conversations must not
// inherit each other's admission history.
func (s *SeenSet) Reset() {
	s.order = s.order[:0]
	s.seen = make(map[string]struct{}, s.capacity)
}
