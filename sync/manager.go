// Package sync supervises synchronization: it keeps data fresh by streaming
// when the push subsystem is healthy and by periodic fetching otherwise,
// reconnecting with backoff after retryable failures.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/b-open-io/flagpush/pubsub"
	"github.com/b-open-io/flagpush/push"
	"github.com/b-open-io/flagpush/telemetry"
	"github.com/jpillora/backoff"
	"github.com/segmentio/encoding/json"
)

// Mode is how data is currently kept up to date.
type Mode string

const (
	ModeStreaming Mode = "streaming"
	ModePolling   Mode = "polling"
)

const (
	DefaultBackoffMin = 1 * time.Second
	DefaultBackoffMax = 30 * time.Minute
)

// Fetcher fetches every feature flag and segment from the control plane.
type Fetcher interface {
	SyncAll(ctx context.Context) error
}

// PushManager is the streaming side of synchronization, see push.Manager.
type PushManager interface {
	Start(ctx context.Context)
	Stop(blocking bool)
	UpdateWorkers(ctx context.Context, enabled bool)
}

// Config wires a Manager. Push and Feedback are nil when streaming is
// disabled. Feedback must be buffered: the push manager reports failures
// from Start, which runs on the supervising goroutine.
type Config struct {
	Fetcher      Fetcher
	Push         PushManager
	Feedback     <-chan push.Status
	PubSub       pubsub.PubSub
	Telemetry    telemetry.RuntimeProducer
	PollInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	Logger       *slog.Logger
}

// ModeEvent is published on pubsub.TopicSyncMode after every handled status.
type ModeEvent struct {
	Mode      Mode   `json:"mode"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Manager switches between streaming and polling in response to push
// status updates.
type Manager struct {
	fetcher   Fetcher
	push      PushManager
	feedback  <-chan push.Status
	pubsub    pubsub.PubSub
	telemetry telemetry.RuntimeProducer
	backoff   *backoff.Backoff
	poller    *poller
	logger    *slog.Logger

	mode    atomic.Value
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager validates cfg and returns a stopped manager in polling mode.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("sync: fetcher is required")
	}
	if (cfg.Push == nil) != (cfg.Feedback == nil) {
		return nil, errors.New("sync: push manager and feedback channel go together")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sync-manager")
	producer := cfg.Telemetry
	if producer == nil {
		producer = telemetry.NoOp{}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	bmin, bmax := cfg.BackoffMin, cfg.BackoffMax
	if bmin <= 0 {
		bmin = DefaultBackoffMin
	}
	if bmax <= 0 {
		bmax = DefaultBackoffMax
	}

	m := &Manager{
		fetcher:   cfg.Fetcher,
		push:      cfg.Push,
		feedback:  cfg.Feedback,
		pubsub:    cfg.PubSub,
		telemetry: producer,
		backoff:   &backoff.Backoff{Min: bmin, Max: bmax, Factor: 2, Jitter: true},
		logger:    logger,
		done:      make(chan struct{}),
	}
	m.poller = &poller{interval: interval, fetch: m.fetcher.SyncAll, logger: logger}
	m.mode.Store(ModePolling)
	return m, nil
}

// Mode reports the current synchronization mode.
func (m *Manager) Mode() Mode {
	return m.mode.Load().(Mode)
}

// Start runs an initial fetch and starts supervising in the background. It
// may only be called once.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("sync: manager already started")
	}
	ctx, m.cancel = context.WithCancel(ctx)

	m.syncAll(ctx)
	go m.run(ctx)
	return nil
}

// Stop ends supervision, closing the streaming connection and stopping
// periodic fetching.
func (m *Manager) Stop() {
	if !m.started.Load() {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.poller.stop()

	if m.push == nil {
		m.logger.Info("Streaming disabled, synchronizing by polling")
		m.poller.start(ctx)
		<-ctx.Done()
		return
	}

	m.push.Start(ctx)
	for {
		select {
		case <-ctx.Done():
			m.push.Stop(true)
			return
		case status := <-m.feedback:
			if !m.handleStatus(ctx, status) {
				m.logger.Info("Streaming permanently unavailable, synchronizing by polling")
				<-ctx.Done()
				return
			}
		}
	}
}

// handleStatus reacts to a push status. It returns false once streaming
// will not be attempted again.
func (m *Manager) handleStatus(ctx context.Context, status push.Status) bool {
	m.logger.Debug("Handling push status", "status", status)

	switch status {
	case push.StatusUp:
		m.poller.stop()
		m.syncAll(ctx)
		m.push.UpdateWorkers(ctx, true)
		m.backoff.Reset()
		m.setMode(ctx, ModeStreaming, status)

	case push.StatusDown:
		m.push.UpdateWorkers(ctx, false)
		m.syncAll(ctx)
		m.poller.start(ctx)
		m.setMode(ctx, ModePolling, status)

	case push.StatusRetryableError:
		m.push.UpdateWorkers(ctx, false)
		m.push.Stop(true)
		m.syncAll(ctx)
		m.poller.start(ctx)
		m.setMode(ctx, ModePolling, status)

		delay := m.backoff.Duration()
		m.logger.Info("Reconnecting to streaming", "in", delay)
		select {
		case <-ctx.Done():
			return true
		case <-time.After(delay):
		}
		m.push.Start(ctx)

	case push.StatusNonRetryableError:
		m.push.UpdateWorkers(ctx, false)
		m.push.Stop(true)
		m.syncAll(ctx)
		m.poller.start(ctx)
		m.setMode(ctx, ModePolling, status)
		return false
	}
	return true
}

func (m *Manager) syncAll(ctx context.Context) {
	if err := m.fetcher.SyncAll(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error("Failed to fetch feature flags and segments", "error", err)
	}
}

func (m *Manager) setMode(ctx context.Context, mode Mode, status push.Status) {
	if previous := m.Mode(); previous != mode {
		m.mode.Store(mode)
		data := telemetry.SyncModePolling
		if mode == ModeStreaming {
			data = telemetry.SyncModeStreaming
		}
		m.telemetry.RecordStreamingEvent(telemetry.NewStreamingEvent(telemetry.EventTypeSyncMode, data))
		m.logger.Info("Synchronization mode changed", "from", previous, "to", mode)
	}

	if m.pubsub == nil {
		return
	}
	payload, err := json.Marshal(ModeEvent{Mode: mode, Status: status.String(), Timestamp: time.Now().UnixMilli()})
	if err != nil {
		m.logger.Error("Failed to encode mode event", "error", err)
		return
	}
	if err := m.pubsub.Publish(ctx, pubsub.TopicSyncMode, string(payload)); err != nil {
		m.logger.Error("Failed to publish mode event", "error", err)
	}
}
