// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/protocol"
	"github.com/jeranaias/chatwire/internal/token"
	"github.com/jeranaias/chatwire/internal/util"
)

// Defaults for Options fields left zero.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultOpenTimeout       = 10 * time.Second
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultMaxAttempts       = 5
	DefaultMaxMessageLen     = 10000
)

// SendPolicy selects how outbound message IDs are derived.
type SendPolicy int

const (
	// SendCollapseDuplicates derives the ID from timestamp and content
	// prefix, so identical rapid re-sends collapse into one local entry.
	SendCollapseDuplicates SendPolicy = iota

	// SendAlwaysUnique salts the ID so every send inserts locally even
	// when content and millisecond collide.
	SendAlwaysUnique
)

// Options configures a Manager. The zero value is usable for tests;
// production fills ServerURL, Fetcher and Dialer.
type Options struct {
	// ServerURL is the WebSocket endpoint, e.g. wss://host/ws. The
	// session token and conversation ID are appended as query params.
	ServerURL string

	// ConversationID scopes the session server-side.
	ConversationID string

	Fetcher token.Fetcher
	Dialer  Dialer

	HeartbeatInterval time.Duration
	OpenTimeout       time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	MaxAttempts       int
	MaxMessageLen     int

	// SendRate caps outbound message frames per second; zero disables
	// the limiter. SendBurst defaults to 1 when a rate is set.
	SendRate  float64
	SendBurst int

	Policy SendPolicy

	Logger zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxMessageLen <= 0 {
		o.MaxMessageLen = DefaultMaxMessageLen
	}
	if o.SendRate > 0 && o.SendBurst <= 0 {
		o.SendBurst = 1
	}
}

// Manager owns one chat connection: token exchange, socket lifecycle,
// heartbeat, reconnect schedule, deduplication, and assembly of the
// server's event stream into a bounded message history.
//
// All mutation happens under mu. Every asynchronous continuation (token
// fetch, dial, read loop, reconnect timer) carries the generation it was
// started under and re-checks it under the lock before touching state;
// a mismatch means the session moved on and the continuation drops itself.
type Manager struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	attempt int

	// intentional marks a caller-driven teardown in progress so that a
	// socket close racing the teardown is not treated as a drop.
	intentional bool

	socket     Socket
	cancel     context.CancelFunc
	retryTimer *time.Timer
	hbStop     chan struct{}

	history *model.History
	seen    *model.SeenSet
	asm     *assembler
	limiter *rate.Limiter

	lastFailure error
	lastQuota   *QuotaError

	// Callbacks fire outside the lock, on whichever goroutine drove the
	// transition. Nil callbacks are skipped.
	onState   func(State)
	onError   func(error)
	onQuota   func(*QuotaError)
	onHistory func([]model.Message)
}

// NewManager builds a Manager. Options are defaulted in place.
func NewManager(opts Options) *Manager {
	opts.applyDefaults()
	log := opts.Logger.With().Str("component", "conn").Logger()

	history := model.NewHistory()
	seen := model.NewSeenSet()

	m := &Manager{
		opts:    opts,
		log:     log,
		state:   StateDisconnected,
		history: history,
		seen:    seen,
		asm:     newAssembler(history, seen, opts.ConversationID, log),
	}
	if opts.SendRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(opts.SendRate), opts.SendBurst)
	}
	return m
}

// SetStateCallback registers the state-change observer.
func (m *Manager) SetStateCallback(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// SetErrorCallback registers the failure observer. It receives terminal
// failures (ErrAuthRequired, ErrMaxAttempts) and per-reply errors
// (*RemoteError).
func (m *Manager) SetErrorCallback(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
}

// SetQuotaCallback registers the quota-exhaustion observer.
func (m *Manager) SetQuotaCallback(fn func(*QuotaError)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onQuota = fn
}

// SetHistoryCallback registers the observer invoked with a snapshot after
// every history mutation.
func (m *Manager) SetHistoryCallback(fn func([]model.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHistory = fn
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the current reconnect attempt number: 0 while the
// connection is healthy, counting up across consecutive failures until
// the schedule is exhausted. Resets to 0 on every successful open.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// ConversationID returns the active conversation.
func (m *Manager) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.ConversationID
}

// History returns a snapshot of the current messages, oldest first.
func (m *Manager) History() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Snapshot()
}

// LastFailure returns the error behind the most recent StateFailed
// transition, or nil.
func (m *Manager) LastFailure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFailure
}

// LastQuota returns the most recent quota exhaustion, or nil.
func (m *Manager) LastQuota() *QuotaError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuota
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Connect starts or restarts the session. It is idempotent while an
// attempt is in flight or the socket is open; from Reconnecting it skips
// the remaining backoff delay, and from Failed it resets the attempt
// counter and starts over.
func (m *Manager) Connect() {
	m.mu.Lock()

	switch m.state {
	case StateFetchingToken, StateOpening, StateOpen:
		m.mu.Unlock()
		return
	case StateFailed:
		m.attempt = 0
		m.lastFailure = nil
	case StateReconnecting:
		if m.retryTimer != nil {
			m.retryTimer.Stop()
			m.retryTimer = nil
		}
	}

	m.intentional = false
	m.gen++
	gen := m.gen

	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.setStateLocked(StateFetchingToken)
	notify := m.stateNotifierLocked()
	m.mu.Unlock()
	notify()

	go m.establish(ctx, gen)
}

// Disconnect tears the session down and returns to Disconnected. Pending
// reconnects are cancelled; history is kept.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	changed := m.state != StateDisconnected
	if changed {
		m.setStateLocked(StateDisconnected)
	}
	notify := m.stateNotifierLocked()
	m.mu.Unlock()
	if changed {
		notify()
	}
}

// SetConversation rebinds the manager to another conversation. The
// current session is torn down; the caller restores that conversation's
// history and reconnects. The dedup window resets because admitted IDs
// belong to the previous conversation.
func (m *Manager) SetConversation(id string) {
	m.mu.Lock()
	m.teardownLocked()
	m.opts.ConversationID = id
	m.seen.Reset()
	m.asm.setConversation(id)
	changed := m.state != StateDisconnected
	if changed {
		m.setStateLocked(StateDisconnected)
	}
	notify := m.stateNotifierLocked()
	m.mu.Unlock()
	if changed {
		notify()
	}
}

// teardownLocked invalidates all outstanding continuations and releases
// the socket. Caller holds mu and decides the next state.
func (m *Manager) teardownLocked() {
	m.intentional = true
	m.gen++
	m.attempt = 0

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.stopHeartbeatLocked()
	if m.socket != nil {
		_ = m.socket.Close()
		m.socket = nil
	}
}

// establish runs one full open attempt: token fetch, then dial. Runs off
// the caller's goroutine; every step revalidates gen under the lock.
func (m *Manager) establish(ctx context.Context, gen uint64) {
	tok, err := m.opts.Fetcher.Fetch(ctx, m.ConversationID())
	if err != nil {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		switch {
		case ctx.Err() != nil:
			// Torn down mid-fetch; teardown already chose the state.
			m.mu.Unlock()
		case errors.Is(err, token.ErrUnauthorized):
			m.log.Warn().Err(err).Msg("token exchange refused, giving up")
			m.failLocked(fmt.Errorf("%w: %w", ErrAuthRequired, err))
		default:
			m.log.Warn().Err(err).Msg("token exchange failed")
			m.dropLocked(err)
		}
		return
	}

	m.mu.Lock()
	if m.gen != gen || m.intentional {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateOpening)
	notify := m.stateNotifierLocked()
	dialURL, urlErr := m.dialURLLocked(tok)
	m.mu.Unlock()
	notify()

	if urlErr != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.failLocked(fmt.Errorf("invalid server url: %w", urlErr))
			return
		}
		m.mu.Unlock()
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.OpenTimeout)
	sock, err := m.opts.Dialer.Dial(dialCtx, dialURL)
	cancel()

	m.mu.Lock()
	if m.gen != gen || m.intentional {
		m.mu.Unlock()
		if sock != nil {
			// Opened after the session moved on; nobody owns it.
			_ = sock.Close()
		}
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("socket open failed")
		m.dropLocked(err)
		return
	}

	m.socket = sock
	m.attempt = 0
	m.setStateLocked(StateOpen)
	notify = m.stateNotifierLocked()
	m.startHeartbeatLocked(sock)
	m.mu.Unlock()
	notify()

	m.log.Info().Str("conversation", m.ConversationID()).Msg("connection open")
	go m.readLoop(sock, gen)
}

// dialURLLocked builds the socket URL with token and conversation query
// params. Caller holds mu.
func (m *Manager) dialURLLocked(tok string) (string, error) {
	u, err := url.Parse(m.opts.ServerURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", tok)
	q.Set("conversation_id", m.opts.ConversationID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dropLocked records a connection loss and schedules the next attempt, or
// fails the session when the schedule is spent. Releases mu and fires
// callbacks before returning.
func (m *Manager) dropLocked(cause error) {
	m.stopHeartbeatLocked()
	if m.socket != nil {
		_ = m.socket.Close()
		m.socket = nil
	}

	m.attempt++
	if m.attempt >= m.opts.MaxAttempts {
		m.failLocked(fmt.Errorf("%w: %w", ErrMaxAttempts, cause))
		return
	}

	delay := backoffDelay(m.opts.BackoffBase, m.opts.BackoffMax, m.attempt-1)
	m.log.Info().
		Int("attempt", m.attempt).
		Dur("delay", delay).
		Msg("connection lost, reconnect scheduled")

	gen := m.gen
	m.setStateLocked(StateReconnecting)
	notify := m.stateNotifierLocked()
	m.retryTimer = time.AfterFunc(delay, func() {
		m.retry(gen)
	})
	m.mu.Unlock()
	notify()
}

// failLocked parks the session in Failed. Releases mu and fires callbacks
// before returning.
func (m *Manager) failLocked(err error) {
	m.stopHeartbeatLocked()
	if m.socket != nil {
		_ = m.socket.Close()
		m.socket = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	m.lastFailure = err
	m.setStateLocked(StateFailed)
	notify := m.stateNotifierLocked()
	onError := m.onError
	m.mu.Unlock()

	notify()
	if onError != nil {
		onError(err)
	}
}

// retry is the reconnect timer body.
func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil

	ctx, cancel := context.WithCancel(context.Background())
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel

	m.setStateLocked(StateFetchingToken)
	notify := m.stateNotifierLocked()
	m.mu.Unlock()
	notify()

	go m.establish(ctx, gen)
}

// backoffDelay returns the delay before retry number attempt (0-based):
// base doubled per attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// =============================================================================
// HEARTBEAT
// =============================================================================

func (m *Manager) startHeartbeatLocked(sock Socket) {
	stop := make(chan struct{})
	m.hbStop = stop
	interval := m.opts.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// A failed ping is advisory; the read loop is the
				// authority on connection death.
				if err := sock.WriteMessage(protocol.EncodePing()); err != nil {
					m.log.Debug().Err(err).Msg("heartbeat write failed")
				}
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
}

// =============================================================================
// READ LOOP
// =============================================================================

// readLoop consumes frames until the socket dies, then classifies the
// close. Runs on its own goroutine per connection.
func (m *Manager) readLoop(sock Socket, gen uint64) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		ev, perr := protocol.Parse(data)
		if perr != nil {
			m.log.Warn().Err(perr).Msg("discarding malformed frame")
			continue
		}
		m.handleEvent(gen, ev)
	}
}

// handleClose classifies a read-loop exit: policy close codes are
// terminal, a clean close is final, anything else enters the reconnect
// schedule.
func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen || m.intentional {
		m.mu.Unlock()
		return
	}

	switch CloseCode(err) {
	case protocol.CloseAuthRequired:
		m.log.Warn().Msg("server closed connection: authentication required")
		m.failLocked(fmt.Errorf("%w: %w", ErrAuthRequired, err))
	case 1000:
		m.log.Info().Msg("server closed connection normally")
		m.stopHeartbeatLocked()
		if m.socket != nil {
			_ = m.socket.Close()
			m.socket = nil
		}
		m.setStateLocked(StateDisconnected)
		notify := m.stateNotifierLocked()
		m.mu.Unlock()
		notify()
	default:
		m.dropLocked(err)
	}
}

// handleEvent applies one server event to manager state. History-mutating
// events run through the assembler; callbacks fire after the lock drops.
func (m *Manager) handleEvent(gen uint64, ev protocol.ServerEvent) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}

	var (
		emitErr     error
		emitQuota   *QuotaError
		historyDirt bool
	)

	switch e := ev.(type) {
	case protocol.Connected, protocol.Pong, protocol.TaskQueued:
		// Informational.
	case protocol.ProcessingStarted:
		m.asm.start()
	case protocol.Chunk:
		m.asm.appendChunk(e.Text)
		historyDirt = true
	case protocol.ToolStart:
		m.log.Debug().Str("tool", e.Tool).Msg("tool started")
	case protocol.ToolEnd:
		m.asm.attachToolOutput(e.Tool, e.Output)
		historyDirt = true
	case protocol.ImageGenerating:
		m.asm.imageGenerating(e.Message)
		historyDirt = true
	case protocol.ImageGenerated:
		m.asm.imageGenerated(e)
		historyDirt = true
	case protocol.Completed:
		m.asm.complete()
		historyDirt = true
	case protocol.ServerError:
		historyDirt = m.asm.fail()
		emitErr = &RemoteError{Message: e.Message}
	case protocol.QuotaExceeded:
		historyDirt = m.asm.fail()
		emitQuota = &QuotaError{
			Reason:            e.Reason,
			Subscription:      e.Subscription,
			CanPurchaseTokens: e.CanPurchaseTokens,
			UpgradeURL:        e.UpgradeURL,
		}
		m.lastQuota = emitQuota
	case protocol.Unknown:
		m.log.Debug().Str("event", e.Event).Msg("ignoring unknown event")
	}

	var snapshot []model.Message
	onHistory := m.onHistory
	if historyDirt && onHistory != nil {
		snapshot = m.history.Snapshot()
	}
	onError := m.onError
	onQuota := m.onQuota
	m.mu.Unlock()

	if historyDirt && onHistory != nil {
		onHistory(snapshot)
	}
	if emitErr != nil && onError != nil {
		onError(emitErr)
	}
	if emitQuota != nil && onQuota != nil {
		onQuota(emitQuota)
	}
}

// =============================================================================
// SENDING
// =============================================================================

// Send validates and records a user message, then delivers it if the
// connection is open. When it is not, the message stays in local history
// and Send triggers (re)connection instead of failing; delivery is the
// caller's retry concern.
func (m *Manager) Send(content string) error {
	// The limit counts characters, not bytes; multi-byte text is not
	// penalized for its encoding.
	if util.RuneLen(content) > m.opts.MaxMessageLen {
		return ErrMessageTooLong
	}

	m.mu.Lock()

	now := time.Now()
	var id string
	switch m.opts.Policy {
	case SendAlwaysUnique:
		id = model.UniqueSendID(now, content)
	default:
		id = model.SendID(now, content)
	}

	inserted := false
	if m.seen.Admit(id) {
		m.history.Append(model.NewUserMessage(id, content))
		inserted = true
	}

	var snapshot []model.Message
	onHistory := m.onHistory
	if inserted && onHistory != nil {
		snapshot = m.history.Snapshot()
	}

	open := m.state == StateOpen
	sock := m.socket
	m.mu.Unlock()

	if inserted && onHistory != nil {
		onHistory(snapshot)
	}

	if !open {
		m.Connect()
		return nil
	}

	if m.limiter != nil && !m.limiter.Allow() {
		return ErrRateLimited
	}

	frame, err := protocol.EncodeMessage(content)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if err := sock.WriteMessage(frame); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// CancelProcessing abandons the in-progress assistant reply, if any.
// Chunks of the cancelled reply that are already in flight are dropped
// when they arrive. Returns whether a reply was cancelled.
func (m *Manager) CancelProcessing() bool {
	m.mu.Lock()
	cancelled := m.asm.cancel()
	var snapshot []model.Message
	onHistory := m.onHistory
	if cancelled && onHistory != nil {
		snapshot = m.history.Snapshot()
	}
	m.mu.Unlock()

	if cancelled && onHistory != nil {
		onHistory(snapshot)
	}
	return cancelled
}

// =============================================================================
// HISTORY MANAGEMENT
// =============================================================================

// RestoreHistory replaces local history with previously persisted
// messages and admits their IDs, so a server replay of the same messages
// is deduplicated.
func (m *Manager) RestoreHistory(msgs []model.Message) {
	m.mu.Lock()
	m.history.Restore(msgs)
	for i := range msgs {
		m.seen.Admit(msgs[i].ID)
	}
	var snapshot []model.Message
	onHistory := m.onHistory
	if onHistory != nil {
		snapshot = m.history.Snapshot()
	}
	m.mu.Unlock()

	if onHistory != nil {
		onHistory(snapshot)
	}
}

// ClearHistory empties local history and the dedup window.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	m.history.Clear()
	m.seen.Reset()
	m.asm.clearPending()
	onHistory := m.onHistory
	m.mu.Unlock()

	if onHistory != nil {
		onHistory(nil)
	}
}

// =============================================================================
// INTERNAL
// =============================================================================

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.log.Debug().Stringer("from", m.state).Stringer("to", s).Msg("state change")
	m.state = s
}

// stateNotifierLocked captures the callback and current state under the
// lock; the returned func is invoked after unlock.
func (m *Manager) stateNotifierLocked() func() {
	fn := m.onState
	s := m.state
	if fn == nil {
		return func() {}
	}
	return func() { fn(s) }
}
