package push

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/b-open-io/flagpush/internal/utils"
	"github.com/b-open-io/flagpush/sse"
)

// ConnectionState is the lifecycle state of a StreamingClient.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// StreamListener receives the callbacks of a StreamingClient. All methods
// are invoked from the read goroutine, in order.
type StreamListener interface {
	// OnConnected fires once the first non-error event arrives.
	OnConnected()
	// OnEvent fires for every event carrying data.
	OnEvent(ev sse.Event)
	// OnDisconnected fires exactly once per Start that opened a read loop.
	OnDisconnected()
}

// StreamingClient turns a token into a subscription and tracks the
// connection lifecycle.
type StreamingClient struct {
	baseURL   string
	headers   map[string]string
	transport *sse.Client
	listener  StreamListener
	logger    *slog.Logger

	mu     sync.Mutex
	state  ConnectionState
	cancel context.CancelFunc
	closed chan struct{}
}

// NewStreamingClient creates an idle client for baseURL, e.g.
// "https://streaming.split.io". A nil transport gets sse.NewClient().
func NewStreamingClient(baseURL string, headers map[string]string, transport *sse.Client, listener StreamListener, logger *slog.Logger) *StreamingClient {
	if transport == nil {
		transport = sse.NewClient(sse.WithLogger(logger))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamingClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		headers:   headers,
		transport: transport,
		listener:  listener,
		logger:    logger.With("component", "streaming-client"),
		state:     StateIdle,
	}
}

// FormatChannels renders the channels query parameter: subscribe-only
// channels followed by occupancy probes for channels exposing publishers,
// each group sorted.
func FormatChannels(channels map[string][]string) string {
	var regular, occupancy []string
	for name, capabilities := range channels {
		if len(capabilities) == 1 && capabilities[0] == capabilitySubscribe {
			regular = append(regular, name)
		}
		if slices.Contains(capabilities, capabilityPublishers) {
			occupancy = append(occupancy, occupancyPrefix+name)
		}
	}
	slices.Sort(regular)
	slices.Sort(occupancy)
	return strings.Join(append(regular, occupancy...), ",")
}

// BuildURL returns the subscription URL for token.
func BuildURL(baseURL string, token *Token) string {
	return fmt.Sprintf("%s/event-stream?v=1.1&accessToken=%s&channels=%s",
		strings.TrimRight(baseURL, "/"), token.Raw, FormatChannels(token.Channels))
}

// ConnectionStatus returns the current state.
func (c *StreamingClient) ConnectionStatus() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start connects with token and blocks until the first event arrives. It
// returns true when the connection is up and false when it failed or the
// first event was an error. The read loop keeps running after Start returns.
func (c *StreamingClient) Start(ctx context.Context, token *Token) bool {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		c.logger.Warn("Streaming client already started", "state", c.ConnectionStatus())
		return false
	}
	connCtx, cancel := context.WithCancel(ctx)
	c.state = StateConnecting
	c.cancel = cancel
	c.closed = make(chan struct{})
	closed := c.closed
	c.mu.Unlock()

	url := BuildURL(c.baseURL, token)
	c.logger.Info("Connecting to streaming", "url", utils.SanitizeStreamingURL(url))

	first := make(chan bool, 1)
	go c.run(connCtx, cancel, url, first, closed)

	select {
	case ok := <-first:
		return ok
	case <-ctx.Done():
		return false
	}
}

func (c *StreamingClient) run(ctx context.Context, cancel context.CancelFunc, url string, first chan<- bool, closed chan struct{}) {
	defer close(closed)
	defer cancel()

	received := false
	clean, err := c.transport.Start(ctx, url, c.headers, func(ev sse.Event) {
		if !received {
			received = true
			c.onFirstEvent(ev, first)
		}
		if ev.Data != "" {
			c.listener.OnEvent(ev)
		}
	})
	if !received {
		first <- false
	}

	if err != nil {
		c.logger.Info("Streaming connection ended", "requested", clean, "error", err)
	} else {
		c.logger.Info("Streaming connection ended", "requested", clean)
	}

	c.mu.Lock()
	c.state = StateIdle
	c.cancel = nil
	c.mu.Unlock()
	c.listener.OnDisconnected()
}

func (c *StreamingClient) onFirstEvent(ev sse.Event, first chan<- bool) {
	c.mu.Lock()
	if ev.IsError() {
		c.state = StateErrored
	} else {
		c.state = StateConnected
	}
	c.mu.Unlock()

	if ev.IsError() {
		first <- false
		return
	}
	first <- true
	c.listener.OnConnected()
}

// Stop tears down the connection. When blocking it waits for the disconnect
// callback, up to timeout; a timeout <= 0 waits indefinitely.
func (c *StreamingClient) Stop(blocking bool, timeout time.Duration) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		c.logger.Warn("Streaming client stop requested while idle")
		return
	}
	state, cancel, closed := c.state, c.cancel, c.closed
	c.mu.Unlock()

	if state != StateConnecting {
		c.transport.Shutdown()
	}
	cancel()

	if !blocking {
		return
	}
	if timeout <= 0 {
		<-closed
		return
	}
	select {
	case <-closed:
	case <-time.After(timeout):
		c.logger.Warn("Timed out waiting for streaming disconnect", "timeout", timeout)
	}
}
