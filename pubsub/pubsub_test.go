package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestChannelPubSub(t *testing.T) {
	ps := NewChannelPubSub()
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := ps.Subscribe(ctx, []string{TopicSyncMode, "other"})
	require.NoError(t, err)

	require.NoError(t, ps.Publish(context.Background(), TopicSyncMode, `{"mode":"streaming"}`))
	ev := receive(t, events)
	assert.Equal(t, TopicSyncMode, ev.Topic)
	assert.Equal(t, `{"mode":"streaming"}`, ev.Data)
	assert.Equal(t, "channels", ev.Source)

	require.NoError(t, ps.Publish(context.Background(), "unrelated", "x"))
	require.NoError(t, ps.Publish(context.Background(), "other", "y"))
	assert.Equal(t, "y", receive(t, events).Data)

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	// Publishing after the subscriber left must not panic.
	require.NoError(t, ps.Publish(context.Background(), TopicSyncMode, "z"))
}

func TestChannelPubSubCloseEndsSubscriptions(t *testing.T) {
	ps := NewChannelPubSub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := ps.Subscribe(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.NoError(t, ps.Close())
	require.NoError(t, ps.Close())

	_, ok := <-events
	assert.False(t, ok)

	late, err := ps.Subscribe(ctx, []string{"a"})
	require.NoError(t, err)
	_, ok = <-late
	assert.False(t, ok)
}

func TestChannelPubSubDropsForFullSubscriber(t *testing.T) {
	ps := NewChannelPubSub()
	defer ps.Close()

	_, err := ps.Subscribe(context.Background(), []string{"a"})
	require.NoError(t, err)
	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, ps.Publish(context.Background(), "a", "x"))
	}
}

func TestCreatePubSub(t *testing.T) {
	ps, err := CreatePubSub("")
	require.NoError(t, err)
	assert.IsType(t, &ChannelPubSub{}, ps)

	ps, err = CreatePubSub("channels://")
	require.NoError(t, err)
	assert.IsType(t, &ChannelPubSub{}, ps)

	_, err = CreatePubSub("kafka://localhost")
	assert.ErrorContains(t, err, "kafka")

	_, err = CreatePubSub("localhost:6379")
	assert.ErrorContains(t, err, "no scheme")
}

func TestRedisPubSub(t *testing.T) {
	ps, err := NewRedisPubSub("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := ps.Subscribe(ctx, []string{TopicSyncMode})
	require.NoError(t, err)

	require.NoError(t, ps.Publish(ctx, TopicSyncMode, `{"mode":"polling"}`))
	ev := receive(t, events)
	assert.Equal(t, TopicSyncMode, ev.Topic)
	assert.Equal(t, `{"mode":"polling"}`, ev.Data)
	assert.Equal(t, "redis", ev.Source)
}
