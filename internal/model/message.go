// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages and history.
package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// METADATA TYPE
// =============================================================================

// MetadataKind discriminates the metadata variants carried by a message.
type MetadataKind string

const (
	// MetaPlain is ordinary text with no structured payload.
	MetaPlain MetadataKind = "plain"

	// MetaGeneratingImage marks a placeholder shown while an image is
	// being generated. The placeholder is superseded by the first real
	// chunk or by the generated image.
	MetaGeneratingImage MetadataKind = "generating_image"

	// MetaGeneratedImage carries a finished generated image.
	MetaGeneratedImage MetadataKind = "generated_image"

	// MetaLearningContent carries structured learning items discovered
	// by a backend tool during generation.
	MetaLearningContent MetadataKind = "learning_content"
)

// ImageInfo describes a generated image attached to a message.
type ImageInfo struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	SessionID string `json:"session_id"`
	Iteration int    `json:"iteration"`
}

// LearningItem is a single piece of learning content surfaced by a tool.
// The core never acts on these; they are data for the UI layer to interpret.
type LearningItem struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Metadata is the tagged variant attached to a message. Kind selects which
// of the optional payload fields is meaningful.
type Metadata struct {
	Kind     MetadataKind   `json:"kind"`
	Image    *ImageInfo     `json:"image,omitempty"`
	Learning []LearningItem `json:"learning,omitempty"`
}

// PlainMetadata returns the zero-payload metadata for ordinary text.
func PlainMetadata() Metadata {
	return Metadata{Kind: MetaPlain}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// Identity is the ID; content is mutable only while the message is the
// in-progress assistant message being assembled from chunks.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

// NewUserMessage creates a user message under the given ID.
func NewUserMessage(id, content string) *Message {
	return &Message{
		ID:        id,
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  PlainMetadata(),
	}
}

// NewSystemMessage creates a system message with a fresh ID.
func NewSystemMessage(content string) *Message {
	return &Message{
		ID:        "sys_" + uuid.NewString(),
		Role:      RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  PlainMetadata(),
	}
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// ID DERIVATION
// =============================================================================

// sendIDPreviewLen bounds how much message content is folded into a send ID.
const sendIDPreviewLen = 16

// SendID derives the optimistic identifier for an outgoing user message from
// the send time and a truncated prefix of the content. Two sends of identical
// content within the same millisecond derive the same ID and collapse to one
// entry when duplicate collapsing is enabled.
func SendID(at time.Time, content string) string {
	preview := content
	runes := []rune(preview)
	if len(runes) > sendIDPreviewLen {
		preview = string(runes[:sendIDPreviewLen])
	}
	preview = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, preview)
	return "user_" + formatMillis(at) + "_" + preview
}

// UniqueSendID derives a send ID that never collides, for deployments where
// rapid identical sends must each appear in history.
func UniqueSendID(at time.Time, content string) string {
	return SendID(at, content) + "_" + uuid.NewString()[:8]
}

// GeneratedImageID derives the stable identifier for a generated image from
// its session and iteration, so a duplicate delivery of the same iteration
// is a no-op at admission time.
func GeneratedImageID(sessionID string, iteration int) string {
	return "img_" + sessionID + "_" + strconv.Itoa(iteration)
}

// PlaceholderID returns the stable per-conversation identifier for the
// image-generating placeholder message.
func PlaceholderID(conversationID string) string {
	return "imggen_" + conversationID
}

// formatMillis renders a Unix-millisecond timestamp in decimal.
func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
