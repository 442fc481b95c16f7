package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Synchronizer fetches changes from the control plane. Implemented by the
// polling layer.
type Synchronizer interface {
	// SynchronizeFeatureFlags fetches feature-flag changes until the local
	// change number reaches till.
	SynchronizeFeatureFlags(ctx context.Context, till int64) error
	// SynchronizeSegment fetches a single segment until it reaches till.
	SynchronizeSegment(ctx context.Context, name string, till int64) error
	// KillFeatureFlag applies a kill to the local copy of a flag.
	KillFeatureFlag(ctx context.Context, name, defaultTreatment string, changeNumber int64) error
}

// ErrURITooLong matches a SyncError for a fetch rejected with 414, which
// happens when the configured flag sets do not fit in the request URI.
// Retrying the same fetch cannot succeed.
var ErrURITooLong = errors.New("fetch URI too long")

// SyncError reports a failed fetch. StatusCode is zero for transport errors.
type SyncError struct {
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("synchronization failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("synchronization failed: %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func (e *SyncError) Is(target error) bool {
	return target == ErrURITooLong && e.StatusCode == http.StatusRequestURITooLong
}
