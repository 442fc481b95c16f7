// Package pubsub fans out synchronization events, such as sync mode changes,
// to local subscribers or across processes through Redis.
package pubsub

import "context"

// TopicSyncMode carries sync mode changes published by the supervisor.
const TopicSyncMode = "sync:mode"

// Event is a message received on a topic.
type Event struct {
	Topic  string `json:"topic"`
	Data   string `json:"data"`
	Source string `json:"source"` // "channels" or "redis"
}

// PubSub publishes to and subscribes to named topics.
type PubSub interface {
	Publish(ctx context.Context, topic string, data string) error

	// Subscribe delivers events for topics until ctx is cancelled, then
	// closes the returned channel.
	Subscribe(ctx context.Context, topics []string) (<-chan Event, error)

	Close() error
}
