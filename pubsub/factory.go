package pubsub

import (
	"fmt"
	"strings"
)

// CreatePubSub returns the PubSub that carries sync mode events, picked by
// the scheme of connectionString:
//
//	channels://                  in-process only; the status route and the
//	                             command's mode log share one supervisor
//	redis://host:6379[/db]       every process subscribed to the same Redis
//	rediss://host:6380[/db]      sees a supervisor's mode changes
//
// An empty string selects channels://.
func CreatePubSub(connectionString string) (PubSub, error) {
	scheme, _, ok := strings.Cut(connectionString, "://")
	if connectionString == "" {
		scheme, ok = "channels", true
	}
	if !ok {
		return nil, fmt.Errorf("pub/sub URL %q has no scheme", connectionString)
	}

	switch scheme {
	case "channels":
		return NewChannelPubSub(), nil
	case "redis", "rediss":
		ps, err := NewRedisPubSub(connectionString)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis pub/sub for sync mode events: %w", err)
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unsupported pub/sub URL scheme: %s", scheme)
	}
}
