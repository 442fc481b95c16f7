package main

import (
	"context"
	"log/slog"

	"github.com/b-open-io/flagpush/push"
	"github.com/b-open-io/flagpush/storage"
)

// storageSynchronizer stands in for the polling layer. It reports every
// fetch the push subsystem asks for and applies kills to local storage.
// Failures reading local state surface as *push.SyncError without a status.
type storageSynchronizer struct {
	flags    storage.FeatureFlagStorage
	segments storage.SegmentStorage
	logger   *slog.Logger
}

func (s *storageSynchronizer) SyncAll(ctx context.Context) error {
	till, err := s.flags.ChangeNumber(ctx)
	if err != nil {
		return &push.SyncError{Err: err}
	}
	s.logger.Info("Full fetch requested", "flagsChangeNumber", till)
	return nil
}

func (s *storageSynchronizer) SynchronizeFeatureFlags(ctx context.Context, till int64) error {
	current, err := s.flags.ChangeNumber(ctx)
	if err != nil {
		return &push.SyncError{Err: err}
	}
	s.logger.Info("Feature flag fetch requested", "till", till, "current", current)
	return nil
}

func (s *storageSynchronizer) SynchronizeSegment(ctx context.Context, name string, till int64) error {
	current, err := s.segments.ChangeNumber(ctx, name)
	if err != nil {
		return &push.SyncError{Err: err}
	}
	s.logger.Info("Segment fetch requested", "segment", name, "till", till, "current", current)
	return nil
}

func (s *storageSynchronizer) KillFeatureFlag(ctx context.Context, name, defaultTreatment string, changeNumber int64) error {
	s.logger.Info("Killing feature flag", "flag", name, "defaultTreatment", defaultTreatment, "changeNumber", changeNumber)
	return s.flags.KillLocally(ctx, name, defaultTreatment, changeNumber)
}
