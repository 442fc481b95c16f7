package push

import (
	"context"
	"testing"

	"github.com/b-open-io/flagpush/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(sync *fakeSynchronizer, queueSize int) *MessageProcessor {
	return NewMessageProcessor(&ProcessorConfig{
		Synchronizer:   sync,
		FlagStorage:    storage.NewMemoryFeatureFlagStorage(),
		SegmentStorage: storage.NewMemorySegmentStorage(),
		QueueSize:      queueSize,
	})
}

func TestProcessorRoutesUpdates(t *testing.T) {
	sync := newFakeSynchronizer()
	p := newTestProcessor(sync, 10)
	ctx := context.Background()
	p.UpdateWorkersStatus(ctx, true)
	defer p.Shutdown()

	require.NoError(t, p.Handle(ctx, NewSplitChangeUpdate("xxxx_splits", 1, 10, nil, nil, "")))
	assert.Equal(t, "flags:10", sync.waitCall(t))

	require.NoError(t, p.Handle(ctx, NewSegmentChangeUpdate("xxxx_segments", 1, 20, "beta_users")))
	assert.Equal(t, "segment:beta_users:20", sync.waitCall(t))
}

func TestProcessorKillAppliesLocallyFirst(t *testing.T) {
	sync := newFakeSynchronizer()
	p := newTestProcessor(sync, 10)
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, NewSplitKillUpdate("xxxx_splits", 1, 30, "checkout_v2", "off")))
	assert.Equal(t, "kill:checkout_v2", sync.waitCall(t))
	assert.Equal(t, []killCall{{name: "checkout_v2", defaultTreatment: "off", changeNumber: 30}}, sync.kills)

	// The kill is also queued so that the worker fetches the full change.
	p.UpdateWorkersStatus(ctx, true)
	defer p.Shutdown()
	assert.Equal(t, "flags:30", sync.waitCall(t))
}

func TestProcessorRejectsUnknownUpdate(t *testing.T) {
	p := newTestProcessor(newFakeSynchronizer(), 10)
	err := p.Handle(context.Background(), stopUpdate{})
	assert.ErrorIs(t, err, ErrUnhandledUpdate)
}

func TestProcessorDropsWhenQueueFull(t *testing.T) {
	sync := newFakeSynchronizer()
	p := newTestProcessor(sync, 1)
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, NewSplitChangeUpdate("c", 1, 1, nil, nil, "")))
	require.NoError(t, p.Handle(ctx, NewSplitChangeUpdate("c", 2, 2, nil, nil, "")))
	assert.Len(t, p.splitQueue, 1)
}

func TestProcessorWorkersToggle(t *testing.T) {
	p := newTestProcessor(newFakeSynchronizer(), 10)
	ctx := context.Background()

	require.Len(t, p.workers(), 2)

	p.UpdateWorkersStatus(ctx, true)
	for _, w := range p.workers() {
		assert.True(t, w.IsRunning())
	}
	p.UpdateWorkersStatus(ctx, true)

	p.UpdateWorkersStatus(ctx, false)
	for _, w := range p.workers() {
		assert.False(t, w.IsRunning())
	}

	p.UpdateWorkersStatus(ctx, true)
	p.Shutdown()
	assert.False(t, p.splitWorker.IsRunning())
	assert.False(t, p.segmentWorker.IsRunning())
}
