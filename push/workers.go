package push

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/b-open-io/flagpush/dtos"
	"github.com/b-open-io/flagpush/storage"
	"github.com/b-open-io/flagpush/telemetry"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/segmentio/encoding/json"
	"golang.org/x/sync/errgroup"
)

// DefaultQueueSize is the capacity of each worker queue.
const DefaultQueueSize = 5000

// maxSegmentFetches bounds concurrent fetches of segments referenced by an
// inline feature-flag definition.
const maxSegmentFetches = 5

// Worker consumes updates of one resource kind.
type Worker interface {
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
}

// updateWorker runs a consumption loop over a queue until it dequeues the
// stop sentinel.
type updateWorker struct {
	name   string
	queue  chan Update
	handle func(ctx context.Context, u Update) error
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	exited  chan struct{}
}

func newUpdateWorker(name string, queue chan Update, logger *slog.Logger, handle func(context.Context, Update) error) *updateWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &updateWorker{
		name:   name,
		queue:  queue,
		handle: handle,
		logger: logger.With("component", name),
	}
}

// Start launches the loop. Calling Start on a running worker is a no-op.
func (w *updateWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.logger.Debug("Worker already running")
		return
	}
	w.running = true
	w.exited = make(chan struct{})
	go w.run(ctx, w.exited)
	w.logger.Debug("Worker started")
}

// Stop enqueues the sentinel and waits for the loop to exit. Updates queued
// before the sentinel are processed first.
func (w *updateWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	w.queue <- stopUpdate{}
	<-w.exited
	w.logger.Debug("Worker stopped")
}

func (w *updateWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *updateWorker) run(ctx context.Context, exited chan struct{}) {
	defer close(exited)
	for u := range w.queue {
		if u.UpdateType() == updateTypeStop {
			return
		}
		err := w.handle(ctx, u)
		switch {
		case err == nil:
		case errors.Is(err, ErrURITooLong):
			w.logger.Error("Fetch rejected as too long, reduce the configured flag sets",
				"type", u.UpdateType(), "changeNumber", u.ChangeNumber())
		default:
			w.logger.Error("Failed to process update",
				"type", u.UpdateType(), "changeNumber", u.ChangeNumber(), "error", err)
		}
	}
}

// SplitWorker applies feature-flag changes and kills.
type SplitWorker struct {
	*updateWorker
	synchronizer   Synchronizer
	flagStorage    storage.FeatureFlagStorage
	segmentStorage storage.SegmentStorage
	telemetry      telemetry.RuntimeProducer
}

// NewSplitWorker creates a feature-flag worker consuming queue.
func NewSplitWorker(queue chan Update, synchronizer Synchronizer, flags storage.FeatureFlagStorage, segments storage.SegmentStorage, producer telemetry.RuntimeProducer, logger *slog.Logger) *SplitWorker {
	if producer == nil {
		producer = telemetry.NoOp{}
	}
	w := &SplitWorker{
		synchronizer:   synchronizer,
		flagStorage:    flags,
		segmentStorage: segments,
		telemetry:      producer,
	}
	w.updateWorker = newUpdateWorker("split-worker", queue, logger, w.process)
	return w
}

func (w *SplitWorker) process(ctx context.Context, u Update) error {
	if change, ok := u.(*SplitChangeUpdate); ok {
		applied, err := w.applyInline(ctx, change)
		if err != nil {
			w.logger.Error("Failed to apply inline feature flag, falling back to fetch",
				"changeNumber", change.ChangeNumber(), "error", err)
		}
		if applied {
			return nil
		}
	}
	if err := w.synchronizer.SynchronizeFeatureFlags(ctx, u.ChangeNumber()); err != nil {
		return fmt.Errorf("failed to synchronize feature flags: %w", err)
	}
	return nil
}

// applyInline stores the definition carried by the update when it applies
// directly on top of the cached change number.
func (w *SplitWorker) applyInline(ctx context.Context, u *SplitChangeUpdate) (bool, error) {
	compression, hasCompression := u.Compression()
	pcn, hasPCN := u.PreviousChangeNumber()
	if !hasCompression || !hasPCN || u.Definition() == "" {
		return false, nil
	}

	current, err := w.flagStorage.ChangeNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read change number: %w", err)
	}
	if pcn != current {
		return false, nil
	}

	raw, err := DecodeDefinition(u.Definition(), compression)
	if err != nil {
		return false, err
	}
	var flag dtos.SplitDTO
	if err := json.Unmarshal(raw, &flag); err != nil {
		return false, fmt.Errorf("invalid feature flag definition: %w", err)
	}

	segments, err := storage.ApplyFeatureFlags(ctx, w.flagStorage, []dtos.SplitDTO{flag}, u.ChangeNumber())
	if err != nil {
		return false, err
	}
	if err := w.fetchMissingSegments(ctx, segments, u.ChangeNumber()); err != nil {
		w.logger.Error("Failed to fetch segments referenced by inline feature flag", "flag", flag.Name, "error", err)
	}

	w.telemetry.RecordUpdatesFromSSE(telemetry.SplitUpdate)
	w.logger.Debug("Applied inline feature flag", "flag", flag.Name, "changeNumber", u.ChangeNumber())
	return true, nil
}

func (w *SplitWorker) fetchMissingSegments(ctx context.Context, names []string, till int64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSegmentFetches)
	for _, name := range names {
		_, err := w.segmentStorage.Segment(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to read segment %s: %w", name, err)
		}
		name := name
		g.Go(func() error {
			return w.synchronizer.SynchronizeSegment(gctx, name, till)
		})
	}
	return g.Wait()
}

// DecodeDefinition decodes a base64 inline definition and decompresses it.
func DecodeDefinition(encoded string, compression Compression) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 definition: %w", err)
	}

	var r io.ReadCloser
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
	case CompressionZlib:
		r, err = zlib.NewReader(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unknown compression %d", compression)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed definition: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress definition: %w", err)
	}
	return out, nil
}

// SegmentWorker fetches changed segments.
type SegmentWorker struct {
	*updateWorker
	synchronizer Synchronizer
}

// NewSegmentWorker creates a segment worker consuming queue.
func NewSegmentWorker(queue chan Update, synchronizer Synchronizer, logger *slog.Logger) *SegmentWorker {
	w := &SegmentWorker{synchronizer: synchronizer}
	w.updateWorker = newUpdateWorker("segment-worker", queue, logger, w.process)
	return w
}

func (w *SegmentWorker) process(ctx context.Context, u Update) error {
	seg, ok := u.(*SegmentChangeUpdate)
	if !ok {
		return fmt.Errorf("%w: %s on segment queue", ErrUnhandledUpdate, u.UpdateType())
	}
	if err := w.synchronizer.SynchronizeSegment(ctx, seg.SegmentName(), seg.ChangeNumber()); err != nil {
		return fmt.Errorf("failed to synchronize segment %s: %w", seg.SegmentName(), err)
	}
	return nil
}
