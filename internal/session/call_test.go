package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-rtc/internal/domain"
)

type callOutcome struct {
	result Result
	err    error
}

func startCall(s *Session, op domain.Operation, data any, timeout time.Duration) <-chan callOutcome {
	done := make(chan callOutcome, 1)
	go func() {
		r, err := s.CallTimeout(context.Background(), op, data, timeout)
		done <- callOutcome{result: r, err: err}
	}()
	return done
}

func awaitCall(t *testing.T, done <-chan callOutcome) callOutcome {
	t.Helper()
	select {
	case out := <-done:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("call did not settle")
		return callOutcome{}
	}
}

func TestCallFailsFastWithoutConnection(t *testing.T) {
	s, _, bus := newTestSession(Config{})

	_, err := s.Call(context.Background(), domain.OpPrivateMessage, nil)
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	s.SetAuthenticated(true)
	_, err = s.Call(context.Background(), domain.OpPrivateMessage, nil)
	require.ErrorIs(t, err, domain.ErrConnectionUnavailable)

	// Preflight failures must not leak listeners.
	assert.False(t, bus.HasSubscribers(domain.EventError))
	assert.False(t, bus.HasSubscribers(domain.EventSuccess))
}

func TestCallResolvesOnSuccessEnvelope(t *testing.T) {
	s, d, _ := newTestSession(Config{})
	conn := connect(t, s, d)

	done := startCall(s, domain.OpPrivateMessage, map[string]any{"message": "hi"}, time.Second)

	require.Eventually(t, func() bool { return len(conn.writtenFrames()) == 1 }, time.Second, time.Millisecond)
	conn.inbound <- []byte(`{"type":"success","message":"Message sent","data":{"id":42}}`)

	out := awaitCall(t, done)
	require.NoError(t, out.err)
	assert.Equal(t, "Message sent", out.result.Message)
	assert.JSONEq(t, `{"id":42}`, string(out.result.Data))
	assert.False(t, out.result.Silent)
}

func TestCallRejectsOnErrorEnvelope(t *testing.T) {
	s, d, _ := newTestSession(Config{})
	conn := connect(t, s, d)

	done := startCall(s, domain.OpGroupMessage, nil, time.Second)

	require.Eventually(t, func() bool { return len(conn.writtenFrames()) == 1 }, time.Second, time.Millisecond)
	conn.inbound <- []byte(`{"type":"error","message":"You are not a member of this group"}`)

	out := awaitCall(t, done)
	require.ErrorIs(t, out.err, domain.ErrOperationFailed)

	var opErr *domain.OperationError
	require.ErrorAs(t, out.err, &opErr)
	assert.Equal(t, domain.OpGroupMessage, opErr.Op)
	assert.Equal(t, "You are not a member of this group", opErr.Reason)
}

func TestAcknowledgedCallTimesOut(t *testing.T) {
	s, d, _ := newTestSession(Config{})
	connect(t, s, d)

	out := awaitCall(t, startCall(s, domain.OpPrivateMessage, nil, 20*time.Millisecond))
	require.ErrorIs(t, out.err, domain.ErrTimeout)
}

func TestSilentCallResolvesAtDeadline(t *testing.T) {
	s, d, _ := newTestSession(Config{})
	connect(t, s, d)

	timeout := 30 * time.Millisecond
	start := time.Now()
	out := awaitCall(t, startCall(s, domain.OpFollowRequest, map[string]any{"recipient_Id": 5}, timeout))

	require.NoError(t, out.err)
	assert.True(t, out.result.Silent)
	assert.Equal(t, "completed", out.result.Message)
	assert.GreaterOrEqual(t, time.Since(start), timeout)
}

func TestSilentCallRejectsOnEarlyError(t *testing.T) {
	s, d, _ := newTestSession(Config{})
	conn := connect(t, s, d)

	start := time.Now()
	done := startCall(s, domain.OpUnfollow, nil, time.Second)

	require.Eventually(t, func() bool { return len(conn.writtenFrames()) == 1 }, time.Second, time.Millisecond)
	conn.inbound <- []byte(`{"type":"error","message":"Invalid data encoding"}`)

	out := awaitCall(t, done)
	require.ErrorIs(t, out.err, domain.ErrOperationFailed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDisconnectRejectsPendingCalls(t *testing.T) {
	s, d, _ := newTestSession(Config{})
	conn := connect(t, s, d)

	done := startCall(s, domain.OpPrivateMessage, nil, time.Minute)
	require.Eventually(t, func() bool { return len(conn.writtenFrames()) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Info().PendingCalls == 1 }, time.Second, time.Millisecond)

	s.Disconnect()

	out := awaitCall(t, done)
	require.ErrorIs(t, out.err, domain.ErrConnectionUnavailable)
	assert.Equal(t, 0, s.Info().PendingCalls)
}

func TestCallListenersAreRemovedAfterSettling(t *testing.T) {
	s, d, bus := newTestSession(Config{})
	conn := connect(t, s, d)

	done := startCall(s, domain.OpPrivateMessage, nil, time.Second)
	require.Eventually(t, func() bool { return len(conn.writtenFrames()) == 1 }, time.Second, time.Millisecond)
	conn.inbound <- []byte(`{"type":"success","message":"ok"}`)
	awaitCall(t, done)

	require.Eventually(t, func() bool {
		return !bus.HasSubscribers(domain.EventError) && !bus.HasSubscribers(domain.EventSuccess)
	}, time.Second, time.Millisecond)
}

func TestCallHonorsContextCancellation(t *testing.T) {
	s, d, _ := newTestSession(Config{})
	connect(t, s, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan callOutcome, 1)
	go func() {
		_, err := s.CallTimeout(ctx, domain.OpPrivateMessage, nil, time.Minute)
		done <- callOutcome{err: err}
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	out := awaitCall(t, done)
	require.ErrorIs(t, out.err, context.Canceled)
}
