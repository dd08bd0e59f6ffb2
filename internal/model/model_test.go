// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strconv"
	"testing"
	"time"
)

// =============================================================================
// HISTORY TESTS
// =============================================================================

// TestHistoryBounded verifies the history keeps exactly the most recent
// MaxMessages entries when overfilled.
func TestHistoryBounded(t *testing.T) {
	h := NewHistory()
	total := MaxMessages + 50
	for i := 0; i < total; i++ {
		h.Append(NewUserMessage("id-"+strconv.Itoa(i), "message "+strconv.Itoa(i)))
	}

	if h.Len() != MaxMessages {
		t.Fatalf("Len() = %d, expected %d", h.Len(), MaxMessages)
	}

	snapshot := h.Snapshot()
	if snapshot[0].ID != "id-50" {
		t.Errorf("oldest surviving message = %s, expected id-50", snapshot[0].ID)
	}
	if snapshot[len(snapshot)-1].ID != "id-"+strconv.Itoa(total-1) {
		t.Errorf("newest message = %s, expected id-%d", snapshot[len(snapshot)-1].ID, total-1)
	}
}

// TestHistoryDuplicateIDIgnored verifies no two messages share an ID.
func TestHistoryDuplicateIDIgnored(t *testing.T) {
	h := NewHistory()
	h.Append(NewUserMessage("dup", "first"))
	h.Append(NewUserMessage("dup", "second"))

	if h.Len() != 1 {
		t.Fatalf("Len() = %d, expected 1", h.Len())
	}
	if h.ByID("dup").Content != "first" {
		t.Errorf("duplicate append overwrote content: %q", h.ByID("dup").Content)
	}
}

// TestHistoryUpsert verifies in-place update for a stable ID.
func TestHistoryUpsert(t *testing.T) {
	h := NewHistory()
	msg := &Message{
		ID:        "msg_stream",
		Role:      RoleAssistant,
		Content:   "partial",
		Timestamp: time.Now(),
		Metadata:  PlainMetadata(),
	}
	h.Upsert(msg)

	updated := *msg
	updated.Content = "partial plus more"
	h.Upsert(&updated)

	if h.Len() != 1 {
		t.Fatalf("Len() = %d, expected 1", h.Len())
	}
	if got := h.ByID(msg.ID).Content; got != "partial plus more" {
		t.Errorf("Content = %q, expected updated content", got)
	}
}

// TestHistoryReplaceWhere verifies atomic remove-then-insert.
func TestHistoryReplaceWhere(t *testing.T) {
	h := NewHistory()
	placeholder := NewUserMessage("ph", "generating...")
	placeholder.Metadata = Metadata{Kind: MetaGeneratingImage}
	h.Append(placeholder)

	final := NewUserMessage("img", "done")
	final.Metadata = Metadata{Kind: MetaGeneratedImage, Image: &ImageInfo{URL: "http://x/y.png"}}

	removed := h.ReplaceWhere(func(m *Message) bool {
		return m.Metadata.Kind == MetaGeneratingImage
	}, final)

	if !removed {
		t.Error("ReplaceWhere should report the placeholder as removed")
	}
	if h.ByID("ph") != nil {
		t.Error("placeholder should be gone")
	}
	if h.ByID("img") == nil {
		t.Error("replacement should be present")
	}
}

// TestHistorySnapshotIsolated verifies observers cannot mutate owned state.
func TestHistorySnapshotIsolated(t *testing.T) {
	h := NewHistory()
	h.Append(NewUserMessage("a", "original"))

	snap := h.Snapshot()
	snap[0].Content = "mutated"

	if h.ByID("a").Content != "original" {
		t.Error("snapshot mutation leaked into history")
	}
}

// TestHistoryRestore verifies persisted messages are reloaded in order.
func TestHistoryRestore(t *testing.T) {
	msgs := []Message{
		*NewUserMessage("u1", "hello"),
		*NewUserMessage("u2", "there"),
	}
	h := NewHistory()
	h.Restore(msgs)

	if h.Len() != 2 {
		t.Fatalf("Len() = %d, expected 2", h.Len())
	}
	if h.Snapshot()[0].ID != "u1" {
		t.Errorf("restore lost ordering")
	}
}

// =============================================================================
// SEEN SET TESTS
// =============================================================================

// TestSeenSetAdmitOnce verifies the same ID is never admitted twice.
func TestSeenSetAdmitOnce(t *testing.T) {
	s := NewSeenSet()
	if !s.Admit("m1") {
		t.Error("first admit should succeed")
	}
	if s.Admit("m1") {
		t.Error("second admit of same ID should fail")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, expected 1", s.Len())
	}
}

// TestSeenSetEviction verifies oldest-first eviction at capacity and the
// accepted re-admission of a long-evicted ID.
func TestSeenSetEviction(t *testing.T) {
	s := NewSeenSetWithCapacity(3)
	s.Admit("a")
	s.Admit("b")
	s.Admit("c")
	s.Admit("d") // evicts "a"

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, expected 3", s.Len())
	}
	if !s.Admit("a") {
		t.Error("evicted ID should be admissible again")
	}
}

// TestSeenSetDefaultCapacity verifies the bound holds at the default size.
func TestSeenSetDefaultCapacity(t *testing.T) {
	s := NewSeenSet()
	for i := 0; i < SeenCapacity+100; i++ {
		s.Admit("id-" + strconv.Itoa(i))
	}
	if s.Len() != SeenCapacity {
		t.Errorf("Len() = %d, expected %d", s.Len(), SeenCapacity)
	}
}

// TestSeenSetReset verifies a conversation change forgets all IDs.
func TestSeenSetReset(t *testing.T) {
	s := NewSeenSet()
	s.Admit("m1")
	s.Reset()

	if s.Len() != 0 {
		t.Errorf("Len() after Reset = %d, expected 0", s.Len())
	}
	if !s.Admit("m1") {
		t.Error("ID should be admissible again after Reset")
	}
}

// =============================================================================
// ID DERIVATION TESTS
// =============================================================================

// TestSendIDCollapses verifies identical content in the same millisecond
// derives the same ID.
func TestSendIDCollapses(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	a := SendID(at, "hello world")
	b := SendID(at, "hello world")
	if a != b {
		t.Errorf("identical sends should share an ID: %q != %q", a, b)
	}

	c := SendID(at.Add(time.Millisecond), "hello world")
	if a == c {
		t.Error("sends in different milliseconds should differ")
	}
}

// TestUniqueSendIDNeverCollides verifies the opt-out policy.
func TestUniqueSendIDNeverCollides(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	if UniqueSendID(at, "same") == UniqueSendID(at, "same") {
		t.Error("UniqueSendID should never collide")
	}
}

// TestGeneratedImageID verifies stability across duplicate deliveries.
func TestGeneratedImageID(t *testing.T) {
	a := GeneratedImageID("sess", 3)
	b := GeneratedImageID("sess", 3)
	if a != b {
		t.Errorf("same session and iteration must derive the same ID")
	}
	if GeneratedImageID("sess", 4) == a {
		t.Error("different iterations must derive different IDs")
	}
}

// TestRolePreview exercises the small display helpers.
func TestRolePreview(t *testing.T) {
	if RoleUser.DisplayName() != "You" {
		t.Errorf("RoleUser display = %q", RoleUser.DisplayName())
	}

	m := NewUserMessage("p", "this is a fairly long message body for preview")
	got := m.Preview(10)
	if len([]rune(got)) != 10 {
		t.Errorf("Preview length = %d, expected 10", len([]rune(got)))
	}
}
