package domain

import (
	"context"
	"errors"
	"fmt"
)

// Close codes mirroring the WebSocket status codes the session cares
// about. Anything other than CloseNormal drives reconnection.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// Transport is one physical bidirectional connection. Implementations
// deliver whole frames; a frame may contain several envelopes and the
// codec package is responsible for splitting them.
type Transport interface {
	// ReadFrame blocks until one raw frame arrives. On connection
	// shutdown it returns an error; if the peer sent a close frame the
	// error unwraps to a *CloseError carrying the close code.
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	// Close tears the connection down with the given close code.
	// Closing an already-closed transport is a no-op.
	Close(code int, reason string) error
}

// Dialer opens a Transport. The session owns reconnection; the dialer
// only performs a single attempt.
type Dialer func(ctx context.Context, url string) (Transport, error)

// CloseError reports the close code a read loop terminated with.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code %d: %s", e.Code, e.Reason)
}

// CloseCode extracts the close code from a read error. Errors with no
// embedded close frame (network resets, cancelled contexts) count as
// abnormal closure.
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}
