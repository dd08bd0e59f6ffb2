// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"fmt"
)

// CloseAuthRequired is the reserved close code meaning "authentication
// required". It suppresses reconnection; every other non-normal close
// feeds the reconnect schedule.
const CloseAuthRequired = 4001

// messageFrame is the outbound user text frame.
type messageFrame struct {
	Message string `json:"message"`
}

// pingFrame is the outbound heartbeat frame.
type pingFrame struct {
	Type string `json:"type"`
}

// EncodeMessage builds the text frame carrying one user message.
func EncodeMessage(content string) ([]byte, error) {
	data, err := json.Marshal(messageFrame{Message: content})
	if err != nil {
		return nil, fmt.Errorf("encoding message frame: %w", err)
	}
	return data, nil
}

// EncodePing builds the heartbeat frame.
func EncodePing() []byte {
	// Static shape; marshaling cannot fail.
	data, _ := json.Marshal(pingFrame{Type: "ping"})
	return data
}
