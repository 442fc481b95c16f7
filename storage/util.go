package storage

import (
	"context"
	"fmt"

	"github.com/b-open-io/flagpush/dtos"
)

// ApplyFeatureFlags stores active flags and deletes the others, recording
// changeNumber. It returns the segment names referenced by the stored flags.
func ApplyFeatureFlags(ctx context.Context, st FeatureFlagStorage, flags []dtos.SplitDTO, changeNumber int64) ([]string, error) {
	var toAdd, toRemove []dtos.SplitDTO
	seen := make(map[string]struct{})
	var segments []string

	for _, flag := range flags {
		if flag.Status != dtos.StatusActive {
			toRemove = append(toRemove, flag)
			continue
		}
		toAdd = append(toAdd, flag)
		for _, name := range flag.SegmentNames() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			segments = append(segments, name)
		}
	}

	if err := st.Update(ctx, toAdd, toRemove, changeNumber); err != nil {
		return nil, fmt.Errorf("failed to update feature flags: %w", err)
	}
	return segments, nil
}
