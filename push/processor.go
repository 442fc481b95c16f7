package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/b-open-io/flagpush/storage"
	"github.com/b-open-io/flagpush/telemetry"
)

// ErrUnhandledUpdate is returned for an update kind no worker consumes.
var ErrUnhandledUpdate = errors.New("no handler for update")

// ProcessorConfig wires a MessageProcessor.
type ProcessorConfig struct {
	Synchronizer   Synchronizer
	FlagStorage    storage.FeatureFlagStorage
	SegmentStorage storage.SegmentStorage
	Telemetry      telemetry.RuntimeProducer
	QueueSize      int
	Logger         *slog.Logger
}

// MessageProcessor routes updates to per-kind worker queues.
type MessageProcessor struct {
	synchronizer  Synchronizer
	splitQueue    chan Update
	segmentQueue  chan Update
	splitWorker   *SplitWorker
	segmentWorker *SegmentWorker
	logger        *slog.Logger
}

// NewMessageProcessor creates a processor whose workers are stopped.
func NewMessageProcessor(cfg *ProcessorConfig) *MessageProcessor {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &MessageProcessor{
		synchronizer: cfg.Synchronizer,
		splitQueue:   make(chan Update, size),
		segmentQueue: make(chan Update, size),
		logger:       logger.With("component", "message-processor"),
	}
	p.splitWorker = NewSplitWorker(p.splitQueue, cfg.Synchronizer, cfg.FlagStorage, cfg.SegmentStorage, cfg.Telemetry, logger)
	p.segmentWorker = NewSegmentWorker(p.segmentQueue, cfg.Synchronizer, logger)
	return p
}

// Handle dispatches an update. Kills are applied locally before being
// queued so reads reflect them immediately.
func (p *MessageProcessor) Handle(ctx context.Context, u Update) error {
	switch upd := u.(type) {
	case *SplitChangeUpdate:
		p.enqueue(p.splitQueue, upd)
	case *SplitKillUpdate:
		if err := p.synchronizer.KillFeatureFlag(ctx, upd.SplitName(), upd.DefaultTreatment(), upd.ChangeNumber()); err != nil {
			p.logger.Error("Failed to kill feature flag locally", "flag", upd.SplitName(), "error", err)
		}
		p.enqueue(p.splitQueue, upd)
	case *SegmentChangeUpdate:
		p.enqueue(p.segmentQueue, upd)
	default:
		return fmt.Errorf("%w: %s", ErrUnhandledUpdate, u.UpdateType())
	}
	return nil
}

func (p *MessageProcessor) enqueue(queue chan Update, u Update) {
	select {
	case queue <- u:
	default:
		p.logger.Warn("Worker queue full, dropping update", "type", u.UpdateType(), "changeNumber", u.ChangeNumber())
	}
}

// UpdateWorkersStatus starts or stops both workers.
func (p *MessageProcessor) UpdateWorkersStatus(ctx context.Context, enabled bool) {
	for _, w := range p.workers() {
		if enabled {
			w.Start(ctx)
		} else {
			w.Stop()
		}
	}
}

// Shutdown stops both workers.
func (p *MessageProcessor) Shutdown() {
	for _, w := range p.workers() {
		w.Stop()
	}
}

func (p *MessageProcessor) workers() []Worker {
	return []Worker{p.splitWorker, p.segmentWorker}
}
