// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatwire/internal/model"
)

// DefaultSaveDelay is how long the saver waits after the last history
// change before writing. Chunk streams mutate history many times per
// second; one write per burst is enough.
const DefaultSaveDelay = 1 * time.Second

// DebouncedSaver coalesces rapid history updates into one disk write.
// Notify is cheap and safe to call from the connection manager's
// history callback; the write happens on the saver's own goroutine.
type DebouncedSaver struct {
	store *ConversationStore
	delay time.Duration
	log   zerolog.Logger

	mu      sync.Mutex
	convID  string
	pending []model.Message
	dirty   bool
	timer   *time.Timer
	closed  bool
}

// NewDebouncedSaver wraps a store with DefaultSaveDelay.
func NewDebouncedSaver(store *ConversationStore, log zerolog.Logger) *DebouncedSaver {
	return &DebouncedSaver{
		store: store,
		delay: DefaultSaveDelay,
		log:   log.With().Str("component", "saver").Logger(),
	}
}

// WithDelay overrides the debounce delay; used by tests.
func (d *DebouncedSaver) WithDelay(delay time.Duration) *DebouncedSaver {
	d.delay = delay
	return d
}

// SetConversation flushes any pending write for the previous
// conversation and rebinds the saver.
func (d *DebouncedSaver) SetConversation(id string) {
	d.Flush()
	d.mu.Lock()
	d.convID = id
	d.mu.Unlock()
}

// Notify records the latest history snapshot and (re)arms the write
// timer.
func (d *DebouncedSaver) Notify(messages []model.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.convID == "" {
		return
	}

	d.pending = messages
	d.dirty = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flushTimer)
}

func (d *DebouncedSaver) flushTimer() {
	d.Flush()
}

// Flush writes the pending snapshot immediately, if any.
func (d *DebouncedSaver) Flush() {
	d.mu.Lock()
	if !d.dirty || d.convID == "" {
		d.mu.Unlock()
		return
	}
	id := d.convID
	msgs := d.pending
	d.dirty = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if err := d.store.Save(id, msgs); err != nil {
		d.log.Warn().Err(err).Str("conversation", id).Msg("conversation save failed")
	}
}

// Close flushes and stops the saver. Further Notify calls are ignored.
func (d *DebouncedSaver) Close() {
	d.Flush()
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
}
