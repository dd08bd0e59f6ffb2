// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"context"
	"errors"
	"sync"
)

// fakeSocket is a scripted Socket. Frames pushed through push() come out
// of ReadMessage; failRead() ends the read loop with the given error.
type fakeSocket struct {
	frames chan []byte
	errs   chan error

	mu      sync.Mutex
	writes  [][]byte
	writeFn func([]byte) error
	closed  bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		frames: make(chan []byte, 64),
		errs:   make(chan error, 1),
	}
}

func (s *fakeSocket) push(frame string) {
	s.frames <- []byte(frame)
}

func (s *fakeSocket) failRead(err error) {
	s.errs <- err
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.errs:
		return nil, err
	}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeFn != nil {
		return s.writeFn(data)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.writes = append(s.writes, cp)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	// Wake a blocked read loop.
	select {
	case s.errs <- errors.New("socket closed"):
	default:
	}
	return nil
}

func (s *fakeSocket) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// fakeDialer hands out fakeSockets and counts dials. An optional gate
// blocks the dial until released, for handshake-race tests.
type fakeDialer struct {
	mu      sync.Mutex
	count   int
	sockets []*fakeSocket
	dialErr error
	gate    chan struct{}
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	d.count++
	gate := d.gate
	err := d.dialErr
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	sock := newFakeSocket()
	d.mu.Lock()
	d.sockets = append(d.sockets, sock)
	d.mu.Unlock()
	return sock, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *fakeDialer) lastSocket() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// dialerFunc adapts a function to Dialer.
type dialerFunc func(ctx context.Context, url string) (Socket, error)

func (f dialerFunc) Dial(ctx context.Context, url string) (Socket, error) {
	return f(ctx, url)
}

// stubFetcher returns a fixed token, a fixed error, or defers to fn.
type stubFetcher struct {
	token string
	err   error
	fn    func(ctx context.Context, conversationID string) (string, error)
}

func (f *stubFetcher) Fetch(ctx context.Context, conversationID string) (string, error) {
	if f.fn != nil {
		return f.fn(ctx, conversationID)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}
