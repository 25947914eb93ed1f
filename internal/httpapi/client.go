// Package httpapi is the thin REST surface the realtime layer needs:
// logging in to obtain the session cookie the websocket upgrade
// requires, and logging out again.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"social-rtc/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Config configures the API client.
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8000".
	BaseURL string `yaml:"base_url"`
	// ConnTimeout bounds connection establishment.
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	// RespTimeout bounds waiting for response headers.
	RespTimeout time.Duration `yaml:"resp_timeout"`
	// Breaker protects the login endpoint from retry storms.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration `yaml:"interval"`
}

// LoginResult is the server's acknowledgement of a successful login.
// The session itself rides the cookie jar, not this value.
type LoginResult struct {
	Message string `json:"message"`
}

// Client talks to the server's REST endpoints and keeps the session
// cookie that authorizes the websocket upgrade.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*LoginResult]
	logger  *slog.Logger
}

// NewClient builds a Client with a fresh cookie jar and pooled
// transport.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", base.Scheme)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	connTimeout := cfg.ConnTimeout
	if connTimeout == 0 {
		connTimeout = 10 * time.Second
	}
	respTimeout := cfg.RespTimeout
	if respTimeout == 0 {
		respTimeout = 30 * time.Second
	}

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	cbTimeout := cfg.Breaker.Timeout
	if cbTimeout == 0 {
		cbTimeout = defaultCBTimeout
	}
	cbInterval := cfg.Breaker.Interval
	if cbInterval == 0 {
		cbInterval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*LoginResult](gobreaker.Settings{
		Name:        "httpapi:login",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    cbInterval,
		Timeout:     cbTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &Client{
		baseURL: base,
		http: &http.Client{
			Jar: jar,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   connTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: respTimeout,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				ForceAttemptHTTP2:     true,
			},
			Timeout: connTimeout + respTimeout,
		},
		breaker: cb,
		logger:  logger,
	}, nil
}

// HTTPClient exposes the underlying client so the websocket dialer can
// reuse its cookie jar for the upgrade request.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Login authenticates with Basic credentials against /api/login. On
// success the session cookie lands in the jar. The call is routed
// through a circuit breaker so a flapping server fails fast.
func (c *Client) Login(ctx context.Context, emailOrNickname, password string) (*LoginResult, error) {
	result, err := c.breaker.Execute(func() (*LoginResult, error) {
		return c.doLogin(ctx, emailOrNickname, password)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("login circuit open: %w", err)
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) doLogin(ctx context.Context, emailOrNickname, password string) (*LoginResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/login"), nil)
	if err != nil {
		return nil, domain.WrapOp("httpapi.login", err)
	}
	req.SetBasicAuth(emailOrNickname, password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.WrapOp("httpapi.login", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.WrapOp("httpapi.login", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, domain.ErrNotAuthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpapi.login: unexpected status %d", resp.StatusCode)
	}

	var result LoginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, domain.WrapOp("httpapi.login", err)
	}
	c.logger.Info("logged in", "user", emailOrNickname)
	return &result, nil
}

// Logout invalidates the server-side session and drops the cookie.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/logout"), nil)
	if err != nil {
		return domain.WrapOp("httpapi.logout", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.WrapOp("httpapi.logout", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpapi.logout: unexpected status %d", resp.StatusCode)
	}
	c.logger.Info("logged out")
	return nil
}

// WebSocketURL derives the realtime endpoint from the base URL:
// http becomes ws, https becomes wss, path is /ws.
func (c *Client) WebSocketURL() string {
	ws := *c.baseURL
	if ws.Scheme == "https" {
		ws.Scheme = "wss"
	} else {
		ws.Scheme = "ws"
	}
	ws.Path = "/ws"
	return ws.String()
}

// BreakerState returns the current login circuit state for monitoring.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}
