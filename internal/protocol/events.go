// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the wire events exchanged with the chat backend.
package protocol

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// SERVER EVENTS
// =============================================================================

// ServerEvent is one inbound frame from the chat backend, discriminated by
// its "event" field. The concrete types below cover the full event set; an
// unrecognized discriminant parses to Unknown.
type ServerEvent interface {
	// Name returns the wire discriminant of the event.
	Name() string
}

// Connected acknowledges the socket-level handshake.
type Connected struct{}

// Pong answers a heartbeat ping. Ignored by the manager.
type Pong struct{}

// TaskQueued reports that the user's request is waiting for a worker.
type TaskQueued struct{}

// ProcessingStarted opens a new assistant reply.
type ProcessingStarted struct{}

// Chunk carries one fragment of the in-progress assistant reply. Chunks
// concatenate in delivery order; the socket guarantees ordering, so no
// re-sequencing is needed.
type Chunk struct {
	Text string
}

// ToolStart reports that the backend began running a tool.
type ToolStart struct {
	Tool string
}

// ToolEnd carries a tool's structured output. The payload stays raw here;
// the connection layer decodes it per tool.
type ToolEnd struct {
	Tool   string
	Output json.RawMessage
}

// ImageGenerating announces that an image is being generated, with a
// human-readable progress message.
type ImageGenerating struct {
	Message string
}

// ImageGenerated delivers a finished generated image.
type ImageGenerated struct {
	ImageURL  string
	Filename  string
	SessionID string
	Iteration int
}

// Completed finalizes the in-progress assistant reply.
type Completed struct{}

// ServerError reports a generation failure. The in-progress reply is
// discarded when this arrives.
type ServerError struct {
	Message string
}

// Subscription describes the caller's plan and usage at the moment quota
// ran out.
type Subscription struct {
	Tier         string `json:"tier"`
	Used         int    `json:"used"`
	Limit        int    `json:"limit"`
	TokenBalance int    `json:"token_balance"`
}

// QuotaExceeded reports usage-allowance exhaustion. It is surfaced through
// its own channel, distinct from generic errors, so the caller can render a
// paywall rather than a toast.
type QuotaExceeded struct {
	Reason            string
	Subscription      Subscription
	CanPurchaseTokens bool
	UpgradeURL        string
}

// Unknown wraps a frame whose discriminant is not part of the protocol.
// Callers log and ignore it.
type Unknown struct {
	Event string
	Raw   json.RawMessage
}

func (Connected) Name() string         { return "connected" }
func (Pong) Name() string              { return "pong" }
func (TaskQueued) Name() string        { return "task_queued" }
func (ProcessingStarted) Name() string { return "processing_started" }
func (Chunk) Name() string             { return "chunk" }
func (ToolStart) Name() string         { return "tool_start" }
func (ToolEnd) Name() string           { return "tool_end" }
func (ImageGenerating) Name() string   { return "image_generating" }
func (ImageGenerated) Name() string    { return "image_generated" }
func (Completed) Name() string         { return "completed" }
func (ServerError) Name() string       { return "error" }
func (QuotaExceeded) Name() string     { return "quota_exceeded" }
func (u Unknown) Name() string         { return u.Event }

// =============================================================================
// PARSING
// =============================================================================

// envelope captures every field any event can carry; the discriminant
// selects which ones are meaningful.
type envelope struct {
	Event             string          `json:"event"`
	Chunk             string          `json:"chunk"`
	Tool              string          `json:"tool"`
	Output            json.RawMessage `json:"output"`
	Message           string          `json:"message"`
	ImageURL          string          `json:"image_url"`
	Filename          string          `json:"filename"`
	SessionID         string          `json:"session_id"`
	IterationNumber   int             `json:"iteration_number"`
	Error             string          `json:"error"`
	Reason            string          `json:"reason"`
	Subscription      Subscription    `json:"subscription"`
	CanPurchaseTokens bool            `json:"can_purchase_tokens"`
	UpgradeURL        string          `json:"upgrade_url"`
}

// Parse decodes one inbound frame into its concrete event type.
// Malformed JSON or a missing discriminant is an error; a well-formed
// frame with an unrecognized discriminant is Unknown, not an error.
func Parse(data []byte) (ServerEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed server frame: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("server frame missing event discriminant")
	}

	switch env.Event {
	case "connected":
		return Connected{}, nil
	case "pong":
		return Pong{}, nil
	case "task_queued":
		return TaskQueued{}, nil
	case "processing_started":
		return ProcessingStarted{}, nil
	case "chunk":
		return Chunk{Text: env.Chunk}, nil
	case "tool_start":
		return ToolStart{Tool: env.Tool}, nil
	case "tool_end":
		return ToolEnd{Tool: env.Tool, Output: env.Output}, nil
	case "image_generating":
		return ImageGenerating{Message: env.Message}, nil
	case "image_generated":
		return ImageGenerated{
			ImageURL:  env.ImageURL,
			Filename:  env.Filename,
			SessionID: env.SessionID,
			Iteration: env.IterationNumber,
		}, nil
	case "completed":
		return Completed{}, nil
	case "error":
		return ServerError{Message: env.Error}, nil
	case "quota_exceeded":
		return QuotaExceeded{
			Reason:            env.Reason,
			Subscription:      env.Subscription,
			CanPurchaseTokens: env.CanPurchaseTokens,
			UpgradeURL:        env.UpgradeURL,
		}, nil
	default:
		return Unknown{Event: env.Event, Raw: append([]byte(nil), data...)}, nil
	}
}

// =============================================================================
// LEARNING CONTENT PAYLOAD
// =============================================================================

// LearningContentTool is the tool name whose output carries learning items.
const LearningContentTool = "learning_content"

// learningOutput is the shape of the learning_content tool's output field.
type learningOutput struct {
	Items []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Kind  string `json:"type"`
	} `json:"items"`
}

// LearningItemsFromOutput decodes the learning_content tool output. A nil
// or empty payload decodes to no items without error.
func LearningItemsFromOutput(raw json.RawMessage) ([]LearningItemPayload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out learningOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("malformed learning content payload: %w", err)
	}
	items := make([]LearningItemPayload, 0, len(out.Items))
	for _, it := range out.Items {
		items = append(items, LearningItemPayload{Title: it.Title, URL: it.URL, Kind: it.Kind})
	}
	return items, nil
}

// LearningItemPayload is one decoded learning item from a tool_end frame.
type LearningItemPayload struct {
	Title string
	URL   string
	Kind  string
}
