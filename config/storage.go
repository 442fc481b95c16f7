package config

import (
	"fmt"

	"github.com/b-open-io/flagpush/internal/utils"
	"github.com/b-open-io/flagpush/pubsub"
	"github.com/b-open-io/flagpush/storage"
)

// Backends are the storage and pub/sub implementations named by a Config.
type Backends struct {
	FeatureFlags storage.FeatureFlagStorage
	Segments     storage.SegmentStorage
	PubSub       pubsub.PubSub
}

// CreateBackends creates feature-flag and segment storage and the pub/sub
// used for sync-mode events.
//
// Example configurations:
//
//  1. All Redis:
//     STORAGE_URL=redis://localhost:6379 PUBSUB_URL=redis://localhost:6379
//
//  2. MongoDB storage, channel pubsub:
//     STORAGE_URL=mongodb://localhost:27017/flags PUBSUB_URL=channels://
//
//  3. Default no-dependency setup:
//     STORAGE_URL= PUBSUB_URL=  // Uses memory:// and channels://
func CreateBackends(cfg *Config) (*Backends, error) {
	flags, segments, err := storage.CreateStorage(cfg.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage %s: %w", utils.SanitizeConnectionString(cfg.StorageURL), err)
	}

	ps, err := pubsub.CreatePubSub(cfg.PubSubURL)
	if err != nil {
		flags.Close()
		segments.Close()
		return nil, fmt.Errorf("failed to create pub/sub %s: %w", utils.SanitizeConnectionString(cfg.PubSubURL), err)
	}

	return &Backends{FeatureFlags: flags, Segments: segments, PubSub: ps}, nil
}

// Close releases every backend.
func (b *Backends) Close() error {
	var firstErr error
	for _, closer := range []interface{ Close() error }{b.PubSub, b.FeatureFlags, b.Segments} {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
