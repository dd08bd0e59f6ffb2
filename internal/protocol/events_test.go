// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"testing"
)

// TestParseKnownEvents verifies each discriminant maps to its event type.
func TestParseKnownEvents(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, ev ServerEvent)
	}{
		{
			name:  "connected",
			frame: `{"event":"connected"}`,
			check: func(t *testing.T, ev ServerEvent) {
				if _, ok := ev.(Connected); !ok {
					t.Errorf("expected Connected, got %T", ev)
				}
			},
		},
		{
			name:  "pong",
			frame: `{"event":"pong"}`,
			check: func(t *testing.T, ev ServerEvent) {
				if _, ok := ev.(Pong); !ok {
					t.Errorf("expected Pong, got %T", ev)
				}
			},
		},
		{
			name:  "chunk",
			frame: `{"event":"chunk","chunk":"The quick "}`,
			check: func(t *testing.T, ev ServerEvent) {
				c, ok := ev.(Chunk)
				if !ok {
					t.Fatalf("expected Chunk, got %T", ev)
				}
				if c.Text != "The quick " {
					t.Errorf("Text = %q", c.Text)
				}
			},
		},
		{
			name:  "tool_end",
			frame: `{"event":"tool_end","tool":"learning_content","output":{"items":[{"title":"Fractions","url":"http://x","type":"video"}]}}`,
			check: func(t *testing.T, ev ServerEvent) {
				te, ok := ev.(ToolEnd)
				if !ok {
					t.Fatalf("expected ToolEnd, got %T", ev)
				}
				items, err := LearningItemsFromOutput(te.Output)
				if err != nil {
					t.Fatalf("LearningItemsFromOutput: %v", err)
				}
				if len(items) != 1 || items[0].Title != "Fractions" || items[0].Kind != "video" {
					t.Errorf("items = %+v", items)
				}
			},
		},
		{
			name:  "image_generated",
			frame: `{"event":"image_generated","image_url":"http://img/1.png","filename":"1.png","session_id":"s1","iteration_number":2}`,
			check: func(t *testing.T, ev ServerEvent) {
				ig, ok := ev.(ImageGenerated)
				if !ok {
					t.Fatalf("expected ImageGenerated, got %T", ev)
				}
				if ig.SessionID != "s1" || ig.Iteration != 2 || ig.ImageURL != "http://img/1.png" {
					t.Errorf("event = %+v", ig)
				}
			},
		},
		{
			name:  "error",
			frame: `{"event":"error","error":"model unavailable"}`,
			check: func(t *testing.T, ev ServerEvent) {
				se, ok := ev.(ServerError)
				if !ok {
					t.Fatalf("expected ServerError, got %T", ev)
				}
				if se.Message != "model unavailable" {
					t.Errorf("Message = %q", se.Message)
				}
			},
		},
		{
			name:  "quota_exceeded",
			frame: `{"event":"quota_exceeded","reason":"monthly limit","subscription":{"tier":"free","used":100,"limit":100,"token_balance":0},"can_purchase_tokens":true,"upgrade_url":"http://up"}`,
			check: func(t *testing.T, ev ServerEvent) {
				q, ok := ev.(QuotaExceeded)
				if !ok {
					t.Fatalf("expected QuotaExceeded, got %T", ev)
				}
				if q.Subscription.Tier != "free" || !q.CanPurchaseTokens || q.UpgradeURL != "http://up" {
					t.Errorf("event = %+v", q)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Parse([]byte(tc.frame))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tc.check(t, ev)
		})
	}
}

// TestParseUnknownEvent verifies an unrecognized discriminant is surfaced
// as Unknown rather than an error.
func TestParseUnknownEvent(t *testing.T) {
	ev, err := Parse([]byte(`{"event":"telemetry_v2","payload":42}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	u, ok := ev.(Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", ev)
	}
	if u.Event != "telemetry_v2" {
		t.Errorf("Event = %q", u.Event)
	}
	if len(u.Raw) == 0 {
		t.Error("Unknown should keep the raw frame")
	}
}

// TestParseMalformed verifies bad frames are rejected.
func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte(`{not json`)); err == nil {
		t.Error("malformed JSON should error")
	}
	if _, err := Parse([]byte(`{"chunk":"no discriminant"}`)); err == nil {
		t.Error("missing discriminant should error")
	}
}

// TestEncodeFrames verifies the two outbound frame shapes.
func TestEncodeFrames(t *testing.T) {
	data, err := EncodeMessage("hello \"there\"")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	var msg map[string]string
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal message frame: %v", err)
	}
	if msg["message"] != `hello "there"` {
		t.Errorf("message = %q", msg["message"])
	}

	var ping map[string]string
	if err := json.Unmarshal(EncodePing(), &ping); err != nil {
		t.Fatalf("unmarshal ping frame: %v", err)
	}
	if ping["type"] != "ping" {
		t.Errorf("ping type = %q", ping["type"])
	}
}

// TestLearningItemsEmptyPayload verifies nil output decodes cleanly.
func TestLearningItemsEmptyPayload(t *testing.T) {
	items, err := LearningItemsFromOutput(nil)
	if err != nil || items != nil {
		t.Errorf("nil payload: items=%v err=%v", items, err)
	}
}
