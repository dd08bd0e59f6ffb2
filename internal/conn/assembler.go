// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/protocol"
)

// cancelledNotice is the fixed message appended when the caller cancels
// an in-progress reply.
const cancelledNotice = "Processing cancelled."

// assembler builds the single in-progress assistant reply from server
// events. At most one pending reply exists at a time; its accumulator is
// read and written only through this struct, never through a copy
// captured in an event handler.
//
// The assembler is not locked; the owning Manager serializes all calls.
type assembler struct {
	history *model.History
	seen    *model.SeenSet
	log     zerolog.Logger

	conversationID string

	// pendingID and buf are the in-progress reply. pendingID is stable
	// across all chunk updates so admission is checked once at insert.
	pendingID string
	buf       strings.Builder

	// suppress drops chunk/completed events that belong to a reply the
	// caller cancelled; it is cleared when the next reply starts.
	suppress bool
}

func newAssembler(history *model.History, seen *model.SeenSet, conversationID string, log zerolog.Logger) *assembler {
	return &assembler{
		history:        history,
		seen:           seen,
		conversationID: conversationID,
		log:            log.With().Str("component", "assembler").Logger(),
	}
}

// hasPending reports whether a reply is currently being assembled.
func (a *assembler) hasPending() bool {
	return a.pendingID != ""
}

// setConversation rebinds the assembler, dropping any pending reply.
func (a *assembler) setConversation(id string) {
	a.conversationID = id
	a.clearPending()
	a.suppress = false
}

// clearPending forgets the in-progress reply without touching history.
func (a *assembler) clearPending() {
	a.pendingID = ""
	a.buf.Reset()
}

// =============================================================================
// EVENT HANDLING
// =============================================================================

// start opens a new pending reply. A stale pending reply is silently
// replaced; the protocol is trusted to order events, and the replacement
// keeps the assembler consistent if it does not.
func (a *assembler) start() {
	if a.pendingID != "" {
		a.log.Debug().Str("stale_id", a.pendingID).Msg("replacing stale pending reply")
	}
	a.pendingID = "msg_" + uuid.NewString()
	a.buf.Reset()
	a.suppress = false
}

// appendChunk appends one fragment to the pending reply and reflects the
// accumulated content into history under the pending ID.
func (a *assembler) appendChunk(text string) {
	if a.suppress {
		a.log.Debug().Msg("dropping chunk for cancelled reply")
		return
	}
	if a.pendingID == "" {
		// A chunk with no preceding processing_started, e.g. after an
		// error path. Open the reply lazily.
		a.start()
	}

	a.buf.WriteString(text)

	// A real chunk supersedes any image-generating placeholder.
	a.history.RemoveWhere(func(m *model.Message) bool {
		return m.Metadata.Kind == model.MetaGeneratingImage
	})

	if msg := a.history.ByID(a.pendingID); msg != nil {
		msg.Content = a.buf.String()
		return
	}
	if !a.seen.Admit(a.pendingID) {
		return
	}
	a.history.Append(&model.Message{
		ID:        a.pendingID,
		Role:      model.RoleAssistant,
		Content:   a.buf.String(),
		Timestamp: time.Now(),
		Metadata:  model.PlainMetadata(),
	})
}

// attachToolOutput attaches structured tool output to the pending reply.
// The target is keyed by the pending ID captured now, so the metadata
// lands on the right message even if more chunks arrive afterward.
func (a *assembler) attachToolOutput(tool string, output json.RawMessage) {
	if tool != protocol.LearningContentTool {
		a.log.Debug().Str("tool", tool).Msg("ignoring output of unrecognized tool")
		return
	}
	if a.pendingID == "" {
		a.log.Warn().Str("tool", tool).Msg("tool output with no pending reply, dropping")
		return
	}

	items, err := protocol.LearningItemsFromOutput(output)
	if err != nil {
		a.log.Warn().Err(err).Msg("discarding malformed learning content")
		return
	}
	if len(items) == 0 {
		return
	}

	learning := make([]model.LearningItem, 0, len(items))
	for _, it := range items {
		learning = append(learning, model.LearningItem{Title: it.Title, URL: it.URL, Kind: it.Kind})
	}

	msg := a.history.ByID(a.pendingID)
	if msg == nil {
		// Tool finished before the first chunk; give the metadata a home
		// under the stable pending ID.
		if !a.seen.Admit(a.pendingID) {
			return
		}
		msg = &model.Message{
			ID:        a.pendingID,
			Role:      model.RoleAssistant,
			Timestamp: time.Now(),
		}
		a.history.Append(msg)
	}
	msg.Metadata = model.Metadata{Kind: model.MetaLearningContent, Learning: learning}
}

// complete finalizes the pending reply: content is frozen at the
// accumulated value and the pending slot is cleared.
func (a *assembler) complete() {
	if a.suppress {
		// The completed event of a cancelled reply; the guard has done
		// its job.
		a.suppress = false
		return
	}
	if a.pendingID == "" {
		return
	}
	if msg := a.history.ByID(a.pendingID); msg != nil {
		msg.Content = a.buf.String()
	}
	a.clearPending()
}

// fail discards the pending reply in full, including any partial content
// already in history. Discarding is deliberate, not data loss by
// accident: a half-formed answer is worse than no answer.
// Returns whether history changed.
func (a *assembler) fail() bool {
	if a.pendingID == "" {
		return false
	}
	removed := a.history.RemoveID(a.pendingID)
	a.clearPending()
	return removed
}

// cancel removes the pending reply in full, appends the fixed
// cancellation notice, and arms the guard that drops any further chunks
// for the cancelled reply. Returns whether anything was cancelled.
func (a *assembler) cancel() bool {
	if a.pendingID == "" {
		return false
	}
	a.history.RemoveID(a.pendingID)
	a.clearPending()
	a.suppress = true

	notice := model.NewSystemMessage(cancelledNotice)
	if a.seen.Admit(notice.ID) {
		a.history.Append(notice)
	}
	return true
}

// =============================================================================
// IMAGE EVENTS
// =============================================================================

// imageGenerating inserts or refreshes the image placeholder under its
// stable per-conversation ID. The placeholder is transient UI state and
// bypasses admission: Upsert is already idempotent by ID, and a later
// generation in the same conversation must be able to reuse the ID.
func (a *assembler) imageGenerating(text string) {
	if text == "" {
		text = "Generating image..."
	}
	a.history.Upsert(&model.Message{
		ID:        model.PlaceholderID(a.conversationID),
		Role:      model.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
		Metadata:  model.Metadata{Kind: model.MetaGeneratingImage},
	})
}

// imageGenerated removes the placeholder and inserts the finished image
// under an ID derived from (session, iteration), so a duplicate delivery
// of the same iteration is a no-op at admission.
func (a *assembler) imageGenerated(ev protocol.ImageGenerated) {
	id := model.GeneratedImageID(ev.SessionID, ev.Iteration)
	if !a.seen.Admit(id) {
		a.log.Debug().Str("id", id).Msg("duplicate generated image, ignoring")
		return
	}
	a.history.ReplaceWhere(func(m *model.Message) bool {
		return m.Metadata.Kind == model.MetaGeneratingImage
	}, &model.Message{
		ID:        id,
		Role:      model.RoleAssistant,
		Content:   ev.Filename,
		Timestamp: time.Now(),
		Metadata: model.Metadata{
			Kind: model.MetaGeneratedImage,
			Image: &model.ImageInfo{
				URL:       ev.ImageURL,
				Filename:  ev.Filename,
				SessionID: ev.SessionID,
				Iteration: ev.Iteration,
			},
		},
	})
}
