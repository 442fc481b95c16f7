package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultReadTimeout is the idle read timeout applied to streaming
// connections. The server sends keepalives well within this window.
const DefaultReadTimeout = 70 * time.Second

// ErrAlreadyStarted is returned by Start when a connection is already open.
var ErrAlreadyStarted = errors.New("sse: client already started")

// ConnectionError reports a transport-level failure: the request could not
// be sent, the server answered with a non-200 status, or the stream broke.
type ConnectionError struct {
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sse: connection failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("sse: connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Client owns at most one event-stream connection at a time.
type Client struct {
	httpClient  *http.Client
	readTimeout time.Duration
	logger      *slog.Logger

	mu                sync.Mutex
	running           bool
	shutdownRequested bool
	cancel            context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used to open connections. The client
// must not carry a global Timeout, streaming responses never end.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithReadTimeout overrides DefaultReadTimeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new SSE transport client
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 0, // No timeout for streaming connections
		},
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "sse")
	return c
}

// Start opens a connection to url and blocks, invoking onEvent for every
// decoded frame in wire order, until the stream ends. It returns true when
// the stream ended because Shutdown was called and false when the remote end
// or the network closed it. A non-nil error describes why a non-requested
// end happened; ErrAlreadyStarted is returned without touching the network.
func (c *Client) Start(ctx context.Context, url string, headers map[string]string, onEvent func(Event)) (bool, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return false, ErrAlreadyStarted
	}
	connCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.shutdownRequested = false
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	body, err := c.connect(connCtx, url, headers, cancel)
	if err != nil {
		if c.requested() {
			return true, nil
		}
		c.logger.Debug("SSE connection failed", "error", err)
		return false, err
	}
	defer body.Close()

	dec := NewDecoder(body)
	for {
		ev, err := dec.Decode()
		if err != nil {
			if c.requested() {
				return true, nil
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("SSE stream closed by remote end")
				return false, nil
			}
			c.logger.Debug("SSE read failed", "error", err)
			return false, &ConnectionError{Err: err}
		}
		onEvent(ev)
	}
}

// Shutdown tears down the current connection, unblocking a concurrent Start.
// Only the first call per connection has an effect.
func (c *Client) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		c.logger.Warn("SSE shutdown requested with no open connection")
		return
	}
	if c.shutdownRequested {
		c.logger.Warn("SSE shutdown already requested")
		return
	}
	c.shutdownRequested = true
	c.cancel()
}

func (c *Client) requested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownRequested
}

// connect issues the GET and returns the response body wrapped with the idle
// read timeout. cancel aborts the request when the timeout fires.
func (c *Client) connect(ctx context.Context, url string, headers map[string]string, cancel context.CancelFunc) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &ConnectionError{StatusCode: resp.StatusCode}
	}

	c.logger.Debug("SSE connection established", "status", resp.StatusCode)
	return newIdleReader(resp.Body, c.readTimeout, cancel), nil
}

// idleReader cancels the connection when no bytes arrive for timeout.
type idleReader struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
}

func newIdleReader(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) io.ReadCloser {
	if timeout <= 0 {
		return rc
	}
	return &idleReader{
		rc:      rc,
		timeout: timeout,
		timer:   time.AfterFunc(timeout, cancel),
	}
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) Close() error {
	r.timer.Stop()
	return r.rc.Close()
}
