package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-rtc/internal/dispatch"
	"social-rtc/internal/domain"
)

type fakeConn struct {
	mu          sync.Mutex
	inbound     chan []byte
	errs        chan error
	written     [][]byte
	closed      bool
	closeCode   int
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		errs:    make(chan error, 2),
	}
}

func (c *fakeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.inbound:
		return b, nil
	case err := <-c.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) WriteFrame(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	c.errs <- &domain.CloseError{Code: code, Reason: reason}
	return nil
}

// fail simulates the server dropping the connection.
func (c *fakeConn) fail(code int) {
	c.errs <- &domain.CloseError{Code: code, Reason: "dropped"}
}

func (c *fakeConn) writtenFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) closedWith() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
	times []time.Time
	// errAfter: dial attempts beyond this count fail. Zero means every
	// attempt fails, negative means never fail.
	errAfter int
}

func (d *fakeDialer) dial(_ context.Context, _ string) (domain.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.times = append(d.times, time.Now())
	if d.errAfter >= 0 && d.calls > d.errAfter {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) dialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Time, len(d.times))
	copy(out, d.times)
	return out
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(cfg Config) (*Session, *fakeDialer, *dispatch.Dispatcher) {
	logger := quietLogger()
	d := &fakeDialer{errAfter: -1}
	bus := dispatch.New(logger)
	return New(cfg, d.dial, bus, logger), d, bus
}

// connect brings a session up with one live fake connection.
func connect(t *testing.T, s *Session, d *fakeDialer) *fakeConn {
	t.Helper()
	s.SetAuthenticated(true)
	require.NoError(t, s.Connect(context.Background(), "ws://example/ws"))
	require.Equal(t, 1, d.dialCalls())
	return d.conn(0)
}

func TestConnectRequiresAuthentication(t *testing.T) {
	s, d, _ := newTestSession(Config{})

	require.NoError(t, s.Connect(context.Background(), "ws://example/ws"))
	assert.Equal(t, 0, d.dialCalls())
	assert.False(t, s.IsConnected())
}

func TestConnectDebouncesRapidAttempts(t *testing.T) {
	s, d, _ := newTestSession(Config{Debounce: time.Second})
	s.SetAuthenticated(true)

	require.NoError(t, s.Connect(context.Background(), "ws://example/ws"))
	conn := d.conn(0)
	conn.fail(domain.CloseAbnormal)
	require.Eventually(t, func() bool { return !s.IsConnected() }, time.Second, time.Millisecond)

	// Still inside the debounce window: silently ignored.
	require.NoError(t, s.Connect(context.Background(), "ws://example/ws"))
	assert.Equal(t, 1, d.dialCalls())
}

func TestConnectIgnoredWhileOpen(t *testing.T) {
	s, d, _ := newTestSession(Config{Debounce: time.Nanosecond})
	connect(t, s, d)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Connect(context.Background(), "ws://example/ws"))
	assert.Equal(t, 1, d.dialCalls())
	assert.True(t, s.IsConnected())
}

func TestDisconnectClosesNormallyWithoutReconnect(t *testing.T) {
	s, d, _ := newTestSession(Config{
		Debounce:      time.Nanosecond,
		ReconnectBase: 5 * time.Millisecond,
	})
	conn := connect(t, s, d)

	s.Disconnect()

	closed, code := conn.closedWith()
	assert.True(t, closed)
	assert.Equal(t, domain.CloseNormal, code)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, d.dialCalls())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s, d, _ := newTestSession(Config{})
	connect(t, s, d)

	s.Disconnect()
	s.Disconnect()
	assert.Equal(t, StateClosed, s.State())
}

func TestConnectDuringSettleWindowDoesNotWedge(t *testing.T) {
	s, d, _ := newTestSession(Config{Debounce: time.Millisecond})
	connect(t, s, d)

	s.Disconnect()

	// Inside the settle window the dial completes but the teardown flag
	// is still up: the fresh handle is abandoned, the caller told, and
	// the session left connectable rather than stuck in "connecting".
	time.Sleep(2 * time.Millisecond)
	err := s.Connect(context.Background(), "ws://example/ws")
	require.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.Equal(t, StateClosed, s.State())

	abandoned := d.conn(1)
	closed, code := abandoned.closedWith()
	assert.True(t, closed)
	assert.Equal(t, domain.CloseNormal, code)

	// Once the window passes, the same session connects again.
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, s.Connect(context.Background(), "ws://example/ws"))
	assert.True(t, s.IsConnected())
	assert.Equal(t, 3, d.dialCalls())
}

func TestLosingAuthenticationTearsDown(t *testing.T) {
	s, d, _ := newTestSession(Config{
		Debounce:      time.Nanosecond,
		ReconnectBase: 5 * time.Millisecond,
	})
	conn := connect(t, s, d)

	s.SetAuthenticated(false)

	closed, code := conn.closedWith()
	assert.True(t, closed)
	assert.Equal(t, domain.CloseNormal, code)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, d.dialCalls())
}

func TestAbnormalCloseReconnectsUpToLimit(t *testing.T) {
	s, d, _ := newTestSession(Config{
		Debounce:             time.Nanosecond,
		ReconnectBase:        3 * time.Millisecond,
		MaxReconnectAttempts: 3,
	})
	conn := connect(t, s, d)
	d.mu.Lock()
	d.errAfter = 1 // every reconnect attempt is refused
	d.mu.Unlock()

	conn.fail(domain.CloseAbnormal)

	// 1 original dial + 3 refused reconnect attempts, then the chain
	// stops for good.
	require.Eventually(t, func() bool { return d.dialCalls() == 4 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, d.dialCalls())
}

func TestGoingAwayCloseReconnects(t *testing.T) {
	s, d, _ := newTestSession(Config{
		Debounce:             time.Nanosecond,
		ReconnectBase:        3 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	conn := connect(t, s, d)

	// 1001 is not a normal closure, so the chain restarts.
	conn.fail(domain.CloseGoingAway)

	require.Eventually(t, func() bool { return d.dialCalls() == 2 && s.IsConnected() }, time.Second, time.Millisecond)
}

func TestReconnectDelaysGrowGeometrically(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 3*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 4500*time.Millisecond, backoffDelay(base, 3))
}

func TestReconnectScheduleIsPaced(t *testing.T) {
	s, d, _ := newTestSession(Config{
		Debounce:             time.Nanosecond,
		ReconnectBase:        40 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	conn := connect(t, s, d)
	d.mu.Lock()
	d.errAfter = 1 // every reconnect attempt is refused
	d.mu.Unlock()

	conn.fail(domain.CloseAbnormal)
	require.Eventually(t, func() bool { return d.dialCalls() == 3 }, time.Second, time.Millisecond)

	// Timers never fire early: attempt 1 waits at least base, attempt 2
	// at least 1.5 * base.
	times := d.dialTimes()
	require.Len(t, times, 3)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 40*time.Millisecond)
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 60*time.Millisecond)
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	s, d, _ := newTestSession(Config{
		Debounce:      time.Nanosecond,
		ReconnectBase: 3 * time.Millisecond,
	})
	conn := connect(t, s, d)

	conn.fail(domain.CloseNormal)

	require.Eventually(t, func() bool { return !s.IsConnected() }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, d.dialCalls())
}

func TestSuccessfulReconnectResetsAttempts(t *testing.T) {
	s, d, _ := newTestSession(Config{
		Debounce:             time.Nanosecond,
		ReconnectBase:        3 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	conn := connect(t, s, d)

	conn.fail(domain.CloseAbnormal)
	require.Eventually(t, func() bool { return d.dialCalls() == 2 && s.IsConnected() }, time.Second, time.Millisecond)

	assert.Equal(t, 0, s.Info().ReconnectAttempts)
}

func TestSendRequiresAuthenticationAndConnection(t *testing.T) {
	s, d, _ := newTestSession(Config{})

	err := s.Send(context.Background(), domain.OpPrivateMessage, nil)
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	s.SetAuthenticated(true)
	err = s.Send(context.Background(), domain.OpPrivateMessage, nil)
	require.ErrorIs(t, err, domain.ErrConnectionUnavailable)
	assert.Equal(t, 0, d.dialCalls())
}

func TestSendRejectsWhenRateLimitExceeded(t *testing.T) {
	s, d, _ := newTestSession(Config{SendRate: 1, SendBurst: 1})
	conn := connect(t, s, d)

	require.NoError(t, s.Send(context.Background(), domain.OpPrivateMessage, nil))

	// The burst is spent and the next token is a second away; a deadline
	// that cannot cover the wait fails immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, domain.OpPrivateMessage, nil)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Len(t, conn.writtenFrames(), 1)
}

func TestSendWritesTypeAndDataEnvelope(t *testing.T) {
	s, d, _ := newTestSession(Config{})
	conn := connect(t, s, d)

	payload := map[string]any{"recipient_Id": float64(7), "message": "hi"}
	require.NoError(t, s.Send(context.Background(), domain.OpPrivateMessage, payload))

	frames := conn.writtenFrames()
	require.Len(t, frames, 1)

	var got struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &got))
	assert.Equal(t, "private_message", got.Type)
	assert.Equal(t, payload, got.Data)
}

func TestInboundFramesArePublishedInOrder(t *testing.T) {
	s, d, bus := newTestSession(Config{})

	var mu sync.Mutex
	var seen []string
	unsub := bus.Subscribe(domain.EventNotification, func(ev domain.Event) {
		env, ok := ev.Payload.(domain.Envelope)
		if !ok {
			return
		}
		mu.Lock()
		seen = append(seen, env.Message)
		mu.Unlock()
	})
	defer unsub()

	conn := connect(t, s, d)
	conn.inbound <- []byte(`{"type":"notification","message":"first"}` + "\n" + `{"type":"notification","message":"second"}`)
	conn.inbound <- []byte(`{"type":"notification","message":"third"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, seen)
}

func TestConnectionEventsPublished(t *testing.T) {
	s, d, bus := newTestSession(Config{})

	var mu sync.Mutex
	var statuses []string
	unsub := bus.Subscribe(domain.EventConnection, func(ev domain.Event) {
		change, ok := ev.Payload.(domain.ConnectionChange)
		if !ok {
			return
		}
		mu.Lock()
		statuses = append(statuses, change.Status)
		mu.Unlock()
	})
	defer unsub()

	conn := connect(t, s, d)
	conn.fail(domain.CloseNormal)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{domain.StatusConnected, domain.StatusDisconnected}, statuses)
}

func TestInfoSnapshot(t *testing.T) {
	s, d, _ := newTestSession(Config{})
	connect(t, s, d)

	info := s.Info()
	assert.True(t, info.Authenticated)
	assert.Equal(t, "open", info.State)
	assert.Equal(t, "ws://example/ws", info.URL)
	assert.Equal(t, 0, info.PendingCalls)
}
