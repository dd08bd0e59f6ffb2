// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the minimal transport surface the manager needs. Production
// uses gorilla/websocket; tests use a scripted fake.
type Socket interface {
	// ReadMessage blocks until the next text frame or a read error.
	// Close-code information travels inside the returned error.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one text frame. Safe for concurrent use; the
	// heartbeat and Send share the socket.
	WriteMessage(data []byte) error

	// Close tears the connection down. Idempotent.
	Close() error
}

// Dialer opens a Socket to the given URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// CloseCode extracts the WebSocket close code from a read error, or 0 if
// the error carries none (network failure, local close).
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// =============================================================================
// GORILLA TRANSPORT
// =============================================================================

// WebsocketDialer dials real WebSocket connections.
type WebsocketDialer struct {
	// HandshakeTimeout bounds the dial itself; the manager additionally
	// bounds the whole open attempt through the dial context.
	HandshakeTimeout time.Duration
}

// NewWebsocketDialer returns a dialer with a 10-second handshake timeout.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{HandshakeTimeout: 10 * time.Second}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsSocket{conn: conn}, nil
}

// wsSocket adapts *websocket.Conn to Socket. Gorilla permits one
// concurrent writer, so writes are serialized here.
type wsSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSocket) WriteMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	s.writeMu.Unlock()

	return s.conn.Close()
}
