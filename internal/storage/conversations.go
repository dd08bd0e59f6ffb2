// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for chatwire.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/util"
)

// =============================================================================
// STORED CONVERSATION TYPE
// =============================================================================

// StoredConversation is the on-disk shape of one conversation. Messages
// carry their metadata so generated images and learning content survive
// a restart.
type StoredConversation struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []model.Message `json:"messages"`
}

// ConversationMeta is the listing view of a stored conversation; the
// message bodies stay on disk.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore persists conversations as one JSON file each under
// BaseDir.
type ConversationStore struct {
	// BaseDir is the directory for storing conversations.
	// Default: ~/.chatwire/conversations/
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited).
	MaxConversations int
}

// NewConversationStore creates a store under the user's home directory.
func NewConversationStore() (*ConversationStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewConversationStoreWithDir(filepath.Join(homeDir, ".chatwire", "conversations"))
}

// NewConversationStoreWithDir creates a store with a custom directory.
func NewConversationStoreWithDir(baseDir string) (*ConversationStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &ConversationStore{
		BaseDir:          baseDir,
		MaxConversations: 100,
	}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a conversation snapshot under its conversation ID.
func (s *ConversationStore) Save(id string, messages []model.Message) error {
	if err := validateID(id); err != nil {
		return err
	}

	conv := StoredConversation{
		ID:        id,
		Summary:   summarize(messages),
		UpdatedAt: time.Now(),
		Messages:  messages,
	}

	// Keep the original creation time across re-saves.
	if prev, err := s.Load(id); err == nil && !prev.CreatedAt.IsZero() {
		conv.CreatedAt = prev.CreatedAt
	} else {
		conv.CreatedAt = conv.UpdatedAt
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(s.filePath(id), data, 0644); err != nil {
		return err
	}

	if s.MaxConversations > 0 {
		s.enforceLimit()
	}
	return nil
}

// summarize derives a listing summary from the first user message.
func summarize(messages []model.Message) string {
	for _, msg := range messages {
		if msg.Role == model.RoleUser && msg.Content != "" {
			content := strings.ReplaceAll(msg.Content, "\n", " ")
			content = strings.ReplaceAll(content, "\r", "")
			return util.TruncateRunes(content, 50)
		}
	}
	return "New conversation"
}

// enforceLimit removes the oldest conversations when over the cap.
func (s *ConversationStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})

	excess := len(metas) - s.MaxConversations
	for i := 0; i < excess; i++ {
		s.Delete(metas[i].ID)
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a conversation by ID.
func (s *ConversationStore) Load(id string) (*StoredConversation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var conv StoredConversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// LoadMessages retrieves just the messages of a conversation, or an
// empty slice when nothing was ever saved.
func (s *ConversationStore) LoadMessages(id string) ([]model.Message, error) {
	conv, err := s.Load(id)
	if err != nil {
		if err == ErrConversationNotFound {
			return nil, nil
		}
		return nil, err
	}
	return conv.Messages, nil
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all saved conversations, most recently updated first.
func (s *ConversationStore) List() ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ConversationMeta{}, nil
		}
		return nil, err
	}

	var metas []ConversationMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")
		conv, err := s.Load(id)
		if err != nil {
			// Corrupted files are skipped, not fatal.
			continue
		}

		preview := ""
		for _, msg := range conv.Messages {
			if msg.Role == model.RoleUser {
				preview = util.TruncateRunes(msg.Content, 80)
				break
			}
		}

		metas = append(metas, ConversationMeta{
			ID:           conv.ID,
			Summary:      conv.Summary,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
			Preview:      preview,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Search finds conversations whose summary or preview contains the
// query, case-insensitive.
func (s *ConversationStore) Search(query string) ([]ConversationMeta, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var results []ConversationMeta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Summary), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) {
			results = append(results, meta)
		}
	}
	return results, nil
}

// SearchMessages finds conversations where any message body contains the
// query, case-insensitive. Loads each conversation in full.
func (s *ConversationStore) SearchMessages(query string) ([]ConversationMeta, error) {
	if query == "" {
		return s.List()
	}

	query = strings.ToLower(query)
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	var results []ConversationMeta
	for _, meta := range all {
		conv, err := s.Load(meta.ID)
		if err != nil {
			continue
		}
		for _, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation by ID.
func (s *ConversationStore) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// Clear removes all saved conversations.
func (s *ConversationStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			os.Remove(filepath.Join(s.BaseDir, entry.Name()))
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *ConversationStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// validateID rejects IDs that would name a file outside BaseDir.
// SECURITY: IDs reach the store from the CLI, so a bare "../x" must
// never turn into a path traversal.
func validateID(id string) error {
	if id == "" {
		return ErrEmptyConversationID
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return ErrInvalidConversationID
	}
	return nil
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders the conversation as Markdown with role labels
// and timestamps. Image messages render as links; learning content as a
// bullet list.
func (c *StoredConversation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# Conversation " + c.ID + "\n\n")
	sb.WriteString("Created: " + c.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range c.Messages {
		sb.WriteString("**" + msg.Role.DisplayName() + "** (" + msg.Timestamp.Format("15:04") + "):\n\n")

		switch msg.Metadata.Kind {
		case model.MetaGeneratedImage:
			if img := msg.Metadata.Image; img != nil {
				sb.WriteString("![" + img.Filename + "](" + img.URL + ")")
			} else {
				sb.WriteString(msg.Content)
			}
		default:
			sb.WriteString(msg.Content)
		}

		if msg.Metadata.Kind == model.MetaLearningContent {
			sb.WriteString("\n")
			for _, item := range msg.Metadata.Learning {
				sb.WriteString("\n- [" + item.Title + "](" + item.URL + ")")
			}
		}

		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// ExportJSON renders the conversation as pretty-printed JSON.
func (c *StoredConversation) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrEmptyConversationID is returned when a save is attempted without an ID.
var ErrEmptyConversationID = &ConversationError{Message: "conversation id is empty"}

// ErrInvalidConversationID is returned for IDs containing path
// separators or dot segments.
var ErrInvalidConversationID = &ConversationError{Message: "invalid conversation id"}

// ConversationError represents a conversation-related error. Compare
// with errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
