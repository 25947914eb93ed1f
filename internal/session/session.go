// Package session owns the single realtime connection to the server:
// authentication gating, debounced connects, graceful teardown, bounded
// backoff reconnection, and the request/response emulation layered over
// the fire-and-forget transport.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"social-rtc/internal/codec"
	"social-rtc/internal/domain"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Config carries the tunables of a Session. Zero values fall back to
// the defaults below.
type Config struct {
	// Debounce is the minimum interval between successive connect
	// attempts.
	Debounce time.Duration
	// DialTimeout bounds a single dial attempt.
	DialTimeout time.Duration
	// CallTimeout is the default deadline of Call.
	CallTimeout time.Duration
	// ReconnectBase is the first reconnect delay; subsequent delays
	// grow by a factor of 1.5 per attempt.
	ReconnectBase time.Duration
	// MaxReconnectAttempts bounds the reconnect chain; once exceeded
	// the session stops retrying silently.
	MaxReconnectAttempts int
	// SendRate/SendBurst throttle outbound sends. Zero SendRate means
	// unlimited.
	SendRate  rate.Limit
	SendBurst int
}

const (
	defaultDebounce      = 200 * time.Millisecond
	defaultDialTimeout   = 10 * time.Second
	defaultCallTimeout   = 10 * time.Second
	defaultReconnectBase = 3 * time.Second
	defaultMaxAttempts   = 3
	backoffFactor        = 1.5

	// How long after a graceful teardown the session keeps refusing
	// reconnects, letting the closing handle settle.
	cleanupSettle = 100 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = defaultDebounce
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxAttempts
	}
	if c.SendRate <= 0 {
		c.SendRate = rate.Inf
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
	return c
}

// Session is the explicit, constructed replacement for what the
// original client kept as module-level singleton state. It enforces "at
// most one live connection" as an invariant of the object.
type Session struct {
	cfg        Config
	dial       domain.Dialer
	dispatcher domain.Dispatcher
	decoder    *codec.Decoder
	logger     *slog.Logger
	limiter    *rate.Limiter

	mu             sync.Mutex
	state          State
	authenticated  bool
	teardown       bool
	conn           domain.Transport
	connGen        uint64
	url            string
	lastAttempt    time.Time
	attempts       int
	reconnectTimer *time.Timer
	settleTimer    *time.Timer

	pendingMu sync.Mutex
	pending   map[*pendingCall]struct{}
}

// New creates a Session. The dialer performs a single connection
// attempt; the session owns debounce, retry, and teardown policy.
func New(cfg Config, dial domain.Dialer, dispatcher domain.Dispatcher, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:        cfg,
		dial:       dial,
		dispatcher: dispatcher,
		decoder:    codec.New(logger),
		logger:     logger,
		limiter:    rate.NewLimiter(cfg.SendRate, cfg.SendBurst),
		pending:    make(map[*pendingCall]struct{}),
	}
}

// SetAuthenticated transitions the auth gate. Dropping authentication
// tears down any live connection immediately. Gaining it only resets
// the retry counter; the caller still decides when to Connect.
func (s *Session) SetAuthenticated(authenticated bool) {
	s.mu.Lock()
	was := s.authenticated
	s.authenticated = authenticated
	if !was && authenticated {
		s.attempts = 0
		s.teardown = false
	}
	s.mu.Unlock()

	if was && !authenticated {
		s.logger.Info("auth gate closed, disconnecting")
		s.Disconnect()
	}
}

// Connect requests a connection to url. It is a no-op while the gate is
// down, while a connection is already connecting or open, and inside
// the debounce window of the previous attempt. A dial that completes
// during teardown is abandoned and reported as ErrSessionClosed.
func (s *Session) Connect(ctx context.Context, url string) error {
	s.mu.Lock()
	if !s.authenticated {
		s.mu.Unlock()
		s.logger.Debug("connect skipped: not authenticated")
		return nil
	}
	now := time.Now()
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		s.logger.Debug("connect skipped: connection already in progress")
		return nil
	}
	if now.Sub(s.lastAttempt) < s.cfg.Debounce {
		s.mu.Unlock()
		s.logger.Debug("connect skipped: inside debounce window")
		return nil
	}
	// Close any stale non-closed handle before opening a new one.
	if stale := s.conn; stale != nil {
		s.conn = nil
		go stale.Close(domain.CloseNormal, "superseded")
	}
	s.lastAttempt = now
	s.state = StateConnecting
	s.url = url
	s.mu.Unlock()

	s.logger.Info("connecting", "url", url)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	conn, err := s.dial(dialCtx, url)
	cancel()

	s.mu.Lock()
	if err != nil {
		s.state = StateClosed
		s.logger.Warn("connect failed", "url", url, "error", err)
		// A failed attempt behaves like an abnormal close: it keeps the
		// reconnect chain alive until the retries are exhausted.
		if s.authenticated && !s.teardown {
			s.scheduleReconnectLocked()
		}
		s.mu.Unlock()
		return domain.WrapOp("session.connect", err)
	}
	if s.teardown || !s.authenticated {
		// Torn down while dialing. Restore a connectable state before
		// abandoning the fresh handle, or the session would report
		// "connecting" forever and refuse every later Connect.
		s.state = StateClosed
		s.mu.Unlock()
		conn.Close(domain.CloseNormal, "logout")
		return domain.WrapOp("session.connect", domain.ErrSessionClosed)
	}
	s.conn = conn
	s.state = StateOpen
	s.attempts = 0
	s.connGen++
	gen := s.connGen
	s.mu.Unlock()

	s.logger.Info("connected", "url", url)
	s.publishConnection(domain.StatusConnected)

	go s.readLoop(conn, gen)
	return nil
}

// Disconnect is the idempotent graceful teardown: it sends a normal
// closure, cancels any scheduled reconnect, clears the attempt counter,
// and rejects every in-flight call.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.teardown {
		s.mu.Unlock()
		return
	}
	s.teardown = true
	s.state = StateClosing
	s.cancelReconnectLocked()
	conn := s.conn
	s.conn = nil
	s.connGen++ // orphan any running read loop
	s.attempts = 0
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(domain.CloseNormal, "logout"); err != nil {
			s.logger.Debug("close during disconnect", "error", err)
		}
		s.publishConnection(domain.StatusDisconnected)
	}

	s.failPending(domain.ErrConnectionUnavailable)

	s.mu.Lock()
	s.state = StateClosed
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	s.settleTimer = time.AfterFunc(cleanupSettle, func() {
		s.mu.Lock()
		s.teardown = false
		s.mu.Unlock()
	})
	s.mu.Unlock()
}

// IsConnected reports whether the transport is open right now.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info is a point-in-time snapshot for debugging and status surfaces.
type Info struct {
	Authenticated     bool   `json:"authenticated"`
	State             string `json:"state"`
	URL               string `json:"url,omitempty"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	PendingCalls      int    `json:"pending_calls"`
}

// Info returns a snapshot of the session state.
func (s *Session) Info() Info {
	s.pendingMu.Lock()
	pending := len(s.pending)
	s.pendingMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Authenticated:     s.authenticated,
		State:             s.state.String(),
		URL:               s.url,
		ReconnectAttempts: s.attempts,
		PendingCalls:      pending,
	}
}

// outbound is the wire form of every client-initiated send.
type outbound struct {
	Type domain.Operation `json:"type"`
	Data any              `json:"data"`
}

// Send transmits one fire-and-forget operation. It fails synchronously
// when the gate is down or the transport is not open.
func (s *Session) Send(ctx context.Context, op domain.Operation, data any) error {
	s.mu.Lock()
	if !s.authenticated {
		s.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return domain.ErrConnectionUnavailable
	}

	payload, err := json.Marshal(outbound{Type: op, Data: data})
	if err != nil {
		return domain.WrapOp("session.send", err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return domain.WrapOp("session.send", domain.ErrRateLimited)
	}
	if err := conn.WriteFrame(ctx, payload); err != nil {
		return domain.WrapOp("session.send", err)
	}
	s.logger.Debug("message sent", "op", string(op))
	return nil
}

// readLoop drains one transport until it dies. Decoded envelopes are
// published synchronously, preserving wire order within and across
// frames. gen guards against a stale loop touching a newer connection.
func (s *Session) readLoop(conn domain.Transport, gen uint64) {
	ctx := context.Background()
	for {
		raw, err := conn.ReadFrame(ctx)
		if err != nil {
			s.handleClose(gen, err)
			return
		}
		for _, env := range s.decoder.Decode(raw) {
			s.dispatcher.Publish(domain.Event{
				Type:      domain.EventType(env.Type),
				Timestamp: time.Now(),
				Payload:   env,
			})
		}
	}
}

// handleClose reacts to the transport dying underneath a read loop.
// Reconnection is driven exclusively from here (and from failed dials);
// write errors surface to callers but never schedule retries.
func (s *Session) handleClose(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.connGen || s.conn == nil {
		// A newer connection or an explicit teardown already took over.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateClosed

	code := domain.CloseCode(err)
	s.logger.Info("connection closed", "code", code, "error", err)
	if s.authenticated && !s.teardown && code != domain.CloseNormal {
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	s.publishConnection(domain.StatusDisconnected)
}

// scheduleReconnectLocked arms the reconnect timer for the next attempt
// with delay base * 1.5^(attempt-1). Callers hold s.mu.
func (s *Session) scheduleReconnectLocked() {
	if s.attempts >= s.cfg.MaxReconnectAttempts {
		s.logger.Warn("reconnect attempts exhausted", "attempts", s.attempts)
		return
	}
	s.attempts++
	delay := backoffDelay(s.cfg.ReconnectBase, s.attempts)
	s.logger.Info("scheduling reconnect",
		"attempt", s.attempts,
		"max_attempts", s.cfg.MaxReconnectAttempts,
		"delay", delay,
	)

	s.cancelReconnectLocked()
	url := s.url
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		ok := s.authenticated && !s.teardown
		s.mu.Unlock()
		if !ok {
			return
		}
		if err := s.Connect(context.Background(), url); err != nil {
			s.logger.Debug("reconnect attempt failed", "error", err)
		}
	})
}

// backoffDelay is the wait before reconnect attempt n (1-based):
// base * 1.5^(n-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(backoffFactor, float64(attempt-1)))
}

// cancelReconnectLocked stops a pending reconnect so a stale timer can
// never resurrect a connection after intentional teardown.
func (s *Session) cancelReconnectLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) publishConnection(status string) {
	s.dispatcher.Publish(domain.Event{
		Type:      domain.EventConnection,
		Timestamp: time.Now(),
		Payload:   domain.ConnectionChange{Status: status},
	})
}
