package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/b-open-io/flagpush/sse"
	"github.com/b-open-io/flagpush/storage"
	"github.com/b-open-io/flagpush/telemetry"
)

// TokenRefreshGrace is how long before expiry a token is replaced.
const TokenRefreshGrace = 10 * time.Minute

// ManagerConfig wires a Manager. StreamingURL, Authenticator, Synchronizer,
// both storages and Feedback are required.
type ManagerConfig struct {
	StreamingURL   string
	Headers        map[string]string
	Authenticator  Authenticator
	Synchronizer   Synchronizer
	FlagStorage    storage.FeatureFlagStorage
	SegmentStorage storage.SegmentStorage
	Feedback       chan<- Status
	Telemetry      telemetry.RuntimeProducer
	Transport      *sse.Client
	QueueSize      int
	Logger         *slog.Logger
}

// Manager authenticates, keeps the streaming connection alive with token
// refreshes, and reports health on the feedback channel. It performs one
// connection attempt per Start; retrying is up to the caller.
type Manager struct {
	auth      Authenticator
	tracker   *StatusTracker
	processor *MessageProcessor
	client    *StreamingClient
	feedback  chan<- Status
	telemetry telemetry.RuntimeProducer
	logger    *slog.Logger

	// flowMu serializes connecting, token refreshes and Stop.
	flowMu       sync.Mutex
	refreshTimer *time.Timer

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager validates cfg and builds an idle manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	switch {
	case cfg.StreamingURL == "":
		return nil, errors.New("push: streaming URL is required")
	case cfg.Authenticator == nil:
		return nil, errors.New("push: authenticator is required")
	case cfg.Synchronizer == nil:
		return nil, errors.New("push: synchronizer is required")
	case cfg.FlagStorage == nil || cfg.SegmentStorage == nil:
		return nil, errors.New("push: feature flag and segment storage are required")
	case cfg.Feedback == nil:
		return nil, errors.New("push: feedback channel is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	producer := cfg.Telemetry
	if producer == nil {
		producer = telemetry.NoOp{}
	}

	m := &Manager{
		auth:      cfg.Authenticator,
		tracker:   NewStatusTracker(producer, logger),
		feedback:  cfg.Feedback,
		telemetry: producer,
		logger:    logger.With("component", "push-manager"),
	}
	m.processor = NewMessageProcessor(&ProcessorConfig{
		Synchronizer:   cfg.Synchronizer,
		FlagStorage:    cfg.FlagStorage,
		SegmentStorage: cfg.SegmentStorage,
		Telemetry:      producer,
		QueueSize:      cfg.QueueSize,
		Logger:         logger,
	})
	m.client = NewStreamingClient(cfg.StreamingURL, cfg.Headers, cfg.Transport, m, logger)
	return m, nil
}

// Start authenticates and opens the streaming connection. Failures are
// reported on the feedback channel.
func (m *Manager) Start(ctx context.Context) {
	m.flowMu.Lock()
	defer m.flowMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.ctx, m.cancel = runCtx, cancel
	m.mu.Unlock()

	m.connectLocked(runCtx)
}

func (m *Manager) connectLocked(ctx context.Context) {
	token, err := m.auth.Authenticate(ctx)
	if err != nil {
		m.logger.Error("Failed to authenticate for streaming", "error", err)
		m.send(ctx, StatusRetryableError)
		return
	}
	if !token.PushEnabled {
		m.logger.Info("Streaming is disabled for this SDK key")
		m.send(ctx, StatusNonRetryableError)
		return
	}

	m.tracker.Reset()
	if !m.client.Start(ctx, token) {
		return
	}

	m.telemetry.RecordStreamingEvent(telemetry.NewStreamingEvent(telemetry.EventTypeTokenRefresh, token.Exp*1000))
	refreshIn := token.RefreshIn(TokenRefreshGrace)
	m.refreshTimer = time.AfterFunc(refreshIn, func() { m.refreshToken(ctx) })
	m.logger.Debug("Token refresh scheduled", "in", refreshIn)
}

// refreshToken replaces the connection with one using a fresh token. No
// status is reported for the intentional disconnect.
func (m *Manager) refreshToken(ctx context.Context) {
	m.flowMu.Lock()
	defer m.flowMu.Unlock()
	if ctx.Err() != nil {
		return
	}

	m.logger.Info("Refreshing streaming token")
	m.tracker.NotifyShutdownExpected()
	if m.client.ConnectionStatus() != StateIdle {
		m.client.Stop(true, 0)
	}
	m.connectLocked(ctx)
}

// Stop closes the connection, cancels the token refresh and stops the
// workers. Safe to call repeatedly.
func (m *Manager) Stop(blocking bool) {
	m.tracker.NotifyShutdownExpected()
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()

	m.flowMu.Lock()
	defer m.flowMu.Unlock()

	if m.client.ConnectionStatus() != StateIdle {
		m.client.Stop(blocking, 0)
	}
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	m.processor.UpdateWorkersStatus(context.Background(), false)
}

// UpdateWorkers starts or stops the update workers.
func (m *Manager) UpdateWorkers(ctx context.Context, enabled bool) {
	m.processor.UpdateWorkersStatus(ctx, enabled)
}

// OnConnected implements StreamListener.
func (m *Manager) OnConnected() {
	m.logger.Info("Streaming connection established")
	m.telemetry.RecordStreamingEvent(telemetry.NewStreamingEvent(telemetry.EventTypeConnectionEstablished, 0))
	m.send(m.runContext(), StatusUp)
}

// OnEvent implements StreamListener.
func (m *Manager) OnEvent(ev sse.Event) {
	ctx := m.runContext()

	n, err := ParseNotification(ev)
	if err != nil {
		m.logger.Error("Discarding malformed streaming event", "event", ev.Event, "error", err)
		return
	}

	switch msg := n.(type) {
	case Update:
		if err := m.processor.Handle(ctx, msg); err != nil {
			m.logger.Error("Failed to handle update", "type", msg.UpdateType(), "error", err)
		}
	case *ControlMessage:
		if s, ok := m.tracker.HandleControlMessage(msg); ok {
			m.send(ctx, s)
		}
	case *OccupancyMessage:
		if s, ok := m.tracker.HandleOccupancy(msg); ok {
			m.send(ctx, s)
		}
	case *AblyError:
		if s, ok := m.tracker.HandleAblyError(msg); ok {
			m.send(ctx, s)
			m.client.Stop(false, 0)
		}
	}
}

// OnDisconnected implements StreamListener.
func (m *Manager) OnDisconnected() {
	data := telemetry.NonRequested
	if m.tracker.ShutdownExpected() {
		data = telemetry.Requested
	}
	m.telemetry.RecordStreamingEvent(telemetry.NewStreamingEvent(telemetry.EventTypeConnectionError, data))

	if s, ok := m.tracker.HandleDisconnect(); ok {
		m.logger.Warn("Streaming connection lost")
		m.send(m.runContext(), s)
	}
}

func (m *Manager) runContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

// send blocks until the supervisor takes s or the manager is stopped.
func (m *Manager) send(ctx context.Context, s Status) {
	select {
	case m.feedback <- s:
		m.logger.Debug("Reported push status", "status", s)
	case <-ctx.Done():
		m.logger.Debug("Dropped push status after stop", "status", s)
	}
}
