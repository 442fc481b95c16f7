package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisPubSub implements PubSub on Redis PUBLISH/SUBSCRIBE, so that several
// processes observe the same events.
type RedisPubSub struct {
	redisClient *redis.Client
}

// NewRedisPubSub creates a new Redis pub/sub handler
func NewRedisPubSub(redisURL string) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisClient := redis.NewClient(opts)

	// Test connection
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPubSub{redisClient: redisClient}, nil
}

// Publish publishes data on the Redis channel named topic.
func (r *RedisPubSub) Publish(ctx context.Context, topic string, data string) error {
	return r.redisClient.Publish(ctx, topic, data).Err()
}

// Subscribe opens a dedicated Redis subscription for topics. It returns
// once Redis has confirmed the subscription.
func (r *RedisPubSub) Subscribe(ctx context.Context, topics []string) (<-chan Event, error) {
	sub := r.redisClient.Subscribe(ctx, topics...)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", topics, err)
	}

	events := make(chan Event, subscriberBuffer)
	go r.listenLoop(ctx, sub, events)
	return events, nil
}

// listenLoop converts Redis messages to events until ctx ends or the
// subscription is closed.
func (r *RedisPubSub) listenLoop(ctx context.Context, sub *redis.PubSub, events chan<- Event) {
	defer close(events)
	defer sub.Close()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				slog.Debug("Redis subscription closed")
				return
			}
			select {
			case events <- Event{Topic: msg.Channel, Data: msg.Payload, Source: "redis"}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close closes the Redis connection, ending every subscription.
func (r *RedisPubSub) Close() error {
	return r.redisClient.Close()
}
