package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/b-open-io/flagpush/dtos"
	"github.com/b-open-io/flagpush/push"
	"github.com/b-open-io/flagpush/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenFlagStorage struct {
	storage.FeatureFlagStorage
}

func (brokenFlagStorage) ChangeNumber(ctx context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestStorageSynchronizer(t *testing.T) {
	ctx := context.Background()
	flags := storage.NewMemoryFeatureFlagStorage()
	s := &storageSynchronizer{flags: flags, segments: storage.NewMemorySegmentStorage(), logger: slog.Default()}

	require.NoError(t, s.SyncAll(ctx))
	require.NoError(t, s.SynchronizeFeatureFlags(ctx, 10))
	require.NoError(t, s.SynchronizeSegment(ctx, "beta", 10))

	require.NoError(t, flags.Update(ctx, []dtos.SplitDTO{{Name: "a", Status: dtos.StatusActive, ChangeNumber: 1, DefaultTreatment: "on"}}, nil, 1))
	require.NoError(t, s.KillFeatureFlag(ctx, "a", "off", 2))
	flag, err := flags.FeatureFlag(ctx, "a")
	require.NoError(t, err)
	assert.True(t, flag.Killed)
	assert.Equal(t, "off", flag.DefaultTreatment)
}

func TestStorageSynchronizerWrapsStorageFailures(t *testing.T) {
	s := &storageSynchronizer{flags: brokenFlagStorage{}, segments: storage.NewMemorySegmentStorage(), logger: slog.Default()}

	for _, err := range []error{s.SyncAll(context.Background()), s.SynchronizeFeatureFlags(context.Background(), 5)} {
		var syncErr *push.SyncError
		require.ErrorAs(t, err, &syncErr)
		assert.Zero(t, syncErr.StatusCode)
		assert.ErrorContains(t, err, "connection refused")
		assert.NotErrorIs(t, err, push.ErrURITooLong)
	}
}
