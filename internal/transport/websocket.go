// Package transport provides the WebSocket implementation of
// domain.Transport.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"social-rtc/internal/domain"
)

// WebSocket wraps one nhooyr connection as a domain.Transport.
type WebSocket struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Dial opens a WebSocket connection to url. The session's HTTP client
// carries the authenticated session cookie, so it is passed through to
// the handshake.
func Dial(ctx context.Context, url string, httpClient *http.Client, header http.Header) (*WebSocket, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	// Frames are whole JSON batches; the server's write pump can queue
	// a burst of them into one message.
	conn.SetReadLimit(1 << 20)
	return &WebSocket{conn: conn}, nil
}

// Dialer adapts Dial to the domain.Dialer shape with a fixed HTTP
// client and header set.
func Dialer(httpClient *http.Client, header http.Header) domain.Dialer {
	return func(ctx context.Context, url string) (domain.Transport, error) {
		return Dial(ctx, url, httpClient, header)
	}
}

// ReadFrame blocks for the next raw frame. When the peer closed the
// connection the returned error unwraps to *domain.CloseError carrying
// the close code.
func (w *WebSocket) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, &domain.CloseError{Code: int(status), Reason: err.Error()}
		}
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	return data, nil
}

// WriteFrame sends one text frame.
func (w *WebSocket) WriteFrame(ctx context.Context, data []byte) error {
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close tears the connection down with the given close code. Repeated
// calls return the first close's result.
func (w *WebSocket) Close(code int, reason string) error {
	w.closeOnce.Do(func() {
		w.closeErr = w.conn.Close(websocket.StatusCode(code), reason)
	})
	return w.closeErr
}

var _ domain.Transport = (*WebSocket)(nil)
