package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. Events for a full
// subscriber are dropped.
const subscriberBuffer = 100

// ChannelPubSub implements PubSub in process with Go channels.
type ChannelPubSub struct {
	subscribers map[string][]chan Event // topic -> subscriber channels
	mu          sync.RWMutex
	closed      bool
}

// NewChannelPubSub creates a new channel-based pub/sub implementation
func NewChannelPubSub() *ChannelPubSub {
	return &ChannelPubSub{
		subscribers: make(map[string][]chan Event),
	}
}

// Publish sends data to all subscribers of a topic without blocking.
func (cp *ChannelPubSub) Publish(ctx context.Context, topic string, data string) error {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	event := Event{Topic: topic, Data: data, Source: "channels"}
	subscribers := cp.subscribers[topic]
	sent := 0
	for _, ch := range subscribers {
		select {
		case ch <- event:
			sent++
		case <-ctx.Done():
			return ctx.Err()
		default:
			slog.Warn("Skipping full subscriber channel", "topic", topic)
		}
	}

	slog.Debug("Published event", "topic", topic, "sent", sent, "subscribers", len(subscribers))
	return nil
}

// Subscribe creates a subscription to the given topics
func (cp *ChannelPubSub) Subscribe(ctx context.Context, topics []string) (<-chan Event, error) {
	eventChan := make(chan Event, subscriberBuffer)

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.closed {
		close(eventChan)
		return eventChan, nil
	}
	for _, topic := range topics {
		cp.subscribers[topic] = append(cp.subscribers[topic], eventChan)
	}

	go func() {
		<-ctx.Done()
		cp.unsubscribeChannel(eventChan, topics)
	}()

	return eventChan, nil
}

// unsubscribeChannel removes a specific channel from topic subscriptions and
// closes it. A channel already closed by Close is left alone.
func (cp *ChannelPubSub) unsubscribeChannel(eventChan chan Event, topics []string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.closed {
		return
	}
	for _, topic := range topics {
		subscribers := cp.subscribers[topic]
		for i, ch := range subscribers {
			if ch == eventChan {
				cp.subscribers[topic] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}

		// Clean up empty topic subscriptions
		if len(cp.subscribers[topic]) == 0 {
			delete(cp.subscribers, topic)
		}
	}
	close(eventChan)
}

// Close closes every subscriber channel. Later subscriptions receive an
// already closed channel.
func (cp *ChannelPubSub) Close() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.closed {
		return nil
	}
	cp.closed = true

	// A channel subscribed to several topics appears once per topic.
	seen := make(map[chan Event]struct{})
	for _, subscribers := range cp.subscribers {
		for _, ch := range subscribers {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			close(ch)
		}
	}

	cp.subscribers = make(map[string][]chan Event)
	return nil
}
