package storage

import (
	"context"
	"errors"

	"github.com/b-open-io/flagpush/dtos"
)

// ErrNotFound is returned when a feature flag or segment is not cached.
var ErrNotFound = errors.New("not found")

// NoChangeNumber is the change number of a storage that was never synchronized.
const NoChangeNumber int64 = -1

// FeatureFlagStorage stores feature-flag definitions.
type FeatureFlagStorage interface {
	// ChangeNumber returns the change number of the last applied update.
	ChangeNumber(ctx context.Context) (int64, error)
	// Update adds toAdd, removes toRemove and records changeNumber atomically
	// where the backend allows it.
	Update(ctx context.Context, toAdd []dtos.SplitDTO, toRemove []dtos.SplitDTO, changeNumber int64) error
	// FeatureFlag returns a cached definition or ErrNotFound.
	FeatureFlag(ctx context.Context, name string) (*dtos.SplitDTO, error)
	// KillLocally marks a flag as killed with the given default treatment if
	// changeNumber is newer than the cached definition.
	KillLocally(ctx context.Context, name, defaultTreatment string, changeNumber int64) error
	// SegmentNames returns every segment referenced by cached flags.
	SegmentNames(ctx context.Context) ([]string, error)
	Close() error
}

// SegmentStorage stores segment membership.
type SegmentStorage interface {
	// Segment returns a cached segment or ErrNotFound.
	Segment(ctx context.Context, name string) (*dtos.SegmentDTO, error)
	// ChangeNumber returns NoChangeNumber for unknown segments.
	ChangeNumber(ctx context.Context, name string) (int64, error)
	Update(ctx context.Context, name string, toAdd, toRemove []string, changeNumber int64) error
	Close() error
}
