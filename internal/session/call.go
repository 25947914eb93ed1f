package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"social-rtc/internal/domain"
	"social-rtc/internal/infra/tracer"
)

// Result is the settled outcome of a Call.
type Result struct {
	// Message is the server's acknowledgement text, or "completed" for
	// silent operations settled at the deadline.
	Message string
	// Data carries any payload attached to the acknowledgement.
	Data json.RawMessage
	// Silent marks a result that was assumed rather than acknowledged.
	Silent bool
}

// pendingCall settles exactly once, whichever of resolve, reject, or
// the deadline wins the race.
type pendingCall struct {
	once   sync.Once
	done   chan struct{}
	result Result
	err    error
}

func newPendingCall() *pendingCall {
	return &pendingCall{done: make(chan struct{})}
}

func (p *pendingCall) resolve(r Result) {
	p.once.Do(func() {
		p.result = r
		close(p.done)
	})
}

func (p *pendingCall) reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (s *Session) trackPending(p *pendingCall) {
	s.pendingMu.Lock()
	s.pending[p] = struct{}{}
	s.pendingMu.Unlock()
}

func (s *Session) untrackPending(p *pendingCall) {
	s.pendingMu.Lock()
	delete(s.pending, p)
	s.pendingMu.Unlock()
}

// failPending rejects every in-flight call, then forgets them.
func (s *Session) failPending(err error) {
	s.pendingMu.Lock()
	calls := make([]*pendingCall, 0, len(s.pending))
	for p := range s.pending {
		calls = append(calls, p)
	}
	s.pending = make(map[*pendingCall]struct{})
	s.pendingMu.Unlock()

	for _, p := range calls {
		p.reject(err)
	}
}

// Call emulates request/response over the fire-and-forget wire using
// the default timeout. Operations the server never acknowledges settle
// successfully at the deadline unless an error arrives first; every
// other operation requires an explicit acknowledgement before the
// deadline and times out otherwise.
func (s *Session) Call(ctx context.Context, op domain.Operation, data any) (Result, error) {
	return s.CallTimeout(ctx, op, data, s.cfg.CallTimeout)
}

// CallTimeout is Call with an explicit deadline.
func (s *Session) CallTimeout(ctx context.Context, op domain.Operation, data any, timeout time.Duration) (Result, error) {
	mode := op.Mode()

	ctx, span := tracer.StartSpan(ctx, "session.call")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("op", string(op)),
		tracer.StringAttr("mode", mode.String()),
		tracer.IntAttr("timeout_ms", int(timeout.Milliseconds())),
	)

	// Fail fast before any listener is registered so a preflight
	// failure can never leak a subscription or a timer.
	s.mu.Lock()
	authed := s.authenticated
	open := s.state == StateOpen && s.conn != nil
	s.mu.Unlock()
	if !authed {
		tracer.RecordError(span, domain.ErrNotAuthenticated)
		return Result{}, domain.ErrNotAuthenticated
	}
	if !open {
		tracer.RecordError(span, domain.ErrConnectionUnavailable)
		return Result{}, domain.ErrConnectionUnavailable
	}

	pc := newPendingCall()
	s.trackPending(pc)
	defer s.untrackPending(pc)

	// The wire carries no correlation ids, so the first error (or
	// acknowledgement) after the send is attributed to this call.
	unsubErr := s.dispatcher.Subscribe(domain.EventError, func(ev domain.Event) {
		env, ok := ev.Payload.(domain.Envelope)
		if !ok {
			return
		}
		pc.reject(domain.NewOperationError(op, env.Message))
	})
	defer unsubErr()

	if mode == domain.ModeAcknowledged {
		unsubOK := s.dispatcher.Subscribe(domain.EventSuccess, func(ev domain.Event) {
			env, ok := ev.Payload.(domain.Envelope)
			if !ok {
				return
			}
			pc.resolve(Result{Message: env.Message, Data: env.Data})
		})
		defer unsubOK()
	}

	if err := s.Send(ctx, op, data); err != nil {
		pc.reject(err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-pc.done:
	case <-timer.C:
		if mode == domain.ModeSilent {
			// No news is good news for operations the server never
			// acknowledges.
			pc.resolve(Result{Message: "completed", Silent: true})
		} else {
			pc.reject(domain.WrapOp(string(op), domain.ErrTimeout))
		}
	case <-ctx.Done():
		pc.reject(ctx.Err())
	}

	<-pc.done
	if pc.err != nil {
		tracer.RecordError(span, pc.err)
		return Result{}, pc.err
	}
	tracer.SetOK(span)
	return pc.result, nil
}
