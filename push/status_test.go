package push

import (
	"testing"

	"github.com/b-open-io/flagpush/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireStatus(t *testing.T, want Status, got Status, ok bool) {
	t.Helper()
	require.True(t, ok, "expected status %s, got none", want)
	assert.Equal(t, want, got)
}

func TestTrackerOccupancyDownAndUp(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)

	_, ok := tracker.HandleOccupancy(NewOccupancyMessage("control_pri", 10, 0))
	assert.False(t, ok, "control_sec still has publishers")

	s, ok := tracker.HandleOccupancy(NewOccupancyMessage("control_sec", 11, 0))
	requireStatus(t, StatusDown, s, ok)

	s, ok = tracker.HandleOccupancy(NewOccupancyMessage("control_pri", 20, 1))
	requireStatus(t, StatusUp, s, ok)
}

func TestTrackerNoPublishersOnEitherChannelIsDown(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)
	tracker.HandleOccupancy(NewOccupancyMessage("control_sec", 5, 0))

	s, ok := tracker.HandleOccupancy(NewOccupancyMessage("control_pri", 10, 0))
	requireStatus(t, StatusDown, s, ok)

	s, ok = tracker.HandleOccupancy(NewOccupancyMessage("control_pri", 20, 1))
	requireStatus(t, StatusUp, s, ok)
}

func TestTrackerPausedThenDisabled(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)

	s, ok := tracker.HandleControlMessage(NewControlMessage("control_pri", 10, ControlStreamingPaused))
	requireStatus(t, StatusDown, s, ok)

	s, ok = tracker.HandleControlMessage(NewControlMessage("control_pri", 20, ControlStreamingDisabled))
	requireStatus(t, StatusNonRetryableError, s, ok)
}

func TestTrackerDisabledWhileUp(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)
	s, ok := tracker.HandleControlMessage(NewControlMessage("control_pri", 10, ControlStreamingDisabled))
	requireStatus(t, StatusNonRetryableError, s, ok)
}

func TestTrackerUpEmittedOnce(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)
	tracker.HandleControlMessage(NewControlMessage("control_pri", 10, ControlStreamingPaused))

	s, ok := tracker.HandleControlMessage(NewControlMessage("control_pri", 20, ControlStreamingEnabled))
	requireStatus(t, StatusUp, s, ok)

	_, ok = tracker.HandleControlMessage(NewControlMessage("control_pri", 30, ControlStreamingEnabled))
	assert.False(t, ok)
}

func TestTrackerIgnoresStaleMessages(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)

	_, ok := tracker.HandleControlMessage(NewControlMessage("control_pri", 20, ControlStreamingEnabled))
	assert.False(t, ok)
	_, ok = tracker.HandleControlMessage(NewControlMessage("control_pri", 10, ControlStreamingPaused))
	assert.False(t, ok, "older control message must not apply")

	tracker.HandleOccupancy(NewOccupancyMessage("control_pri", 20, 0))
	_, ok = tracker.HandleOccupancy(NewOccupancyMessage("control_sec", 5, 0))
	assert.False(t, ok, "older occupancy message must not apply")
}

func TestTrackerAppliesSameTimestampMessages(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)

	// Primary and secondary occupancy are usually published together.
	_, ok := tracker.HandleOccupancy(NewOccupancyMessage("control_pri", 10, 0))
	assert.False(t, ok)
	s, ok := tracker.HandleOccupancy(NewOccupancyMessage("control_sec", 10, 0))
	requireStatus(t, StatusDown, s, ok)

	tracker = NewStatusTracker(nil, nil)
	s, ok = tracker.HandleControlMessage(NewControlMessage("control_pri", 10, ControlStreamingPaused))
	requireStatus(t, StatusDown, s, ok)
	s, ok = tracker.HandleControlMessage(NewControlMessage("control_pri", 10, ControlStreamingEnabled))
	requireStatus(t, StatusUp, s, ok)
}

func TestTrackerIgnoresUnknownChannel(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)
	_, ok := tracker.HandleOccupancy(NewOccupancyMessage("xxxx_splits", 10, 0))
	assert.False(t, ok)
}

func TestTrackerQualifiedChannelNames(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)
	tracker.HandleOccupancy(NewOccupancyMessage("NzM2MDI5Mzc0_MTgyNTg1MTgwNg==_control_pri", 10, 0))
	s, ok := tracker.HandleOccupancy(NewOccupancyMessage("NzM2MDI5Mzc0_MTgyNTg1MTgwNg==_control_sec", 10, 0))
	requireStatus(t, StatusDown, s, ok)
}

func TestTrackerRetryableAblyErrorSuppressesDisconnect(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)

	s, ok := tracker.HandleAblyError(NewAblyError(40145, 401, "Token expired", "https://help.ably.io/error/40145", 0))
	requireStatus(t, StatusRetryableError, s, ok)
	assert.True(t, tracker.ShutdownExpected())

	_, ok = tracker.HandleDisconnect()
	assert.False(t, ok)
}

func TestTrackerIgnoresUnknownAblyErrorCode(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)

	_, ok := tracker.HandleAblyError(NewAblyError(60000, 600, "unknown", "", 0))
	assert.False(t, ok)
	assert.False(t, tracker.ShutdownExpected())
}

func TestTrackerNonRetryableAblyError(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)
	s, ok := tracker.HandleAblyError(NewAblyError(40139, 400, "bad", "", 0))
	requireStatus(t, StatusNonRetryableError, s, ok)
}

func TestTrackerDisconnect(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)
	s, ok := tracker.HandleDisconnect()
	requireStatus(t, StatusRetryableError, s, ok)

	tracker.NotifyShutdownExpected()
	for i := 0; i < 3; i++ {
		_, ok = tracker.HandleDisconnect()
		assert.False(t, ok)
	}
}

func TestTrackerShutdownSuppressesSignals(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)
	tracker.NotifyShutdownExpected()

	_, ok := tracker.HandleControlMessage(NewControlMessage("control_pri", 10, ControlStreamingDisabled))
	assert.False(t, ok)
	_, ok = tracker.HandleOccupancy(NewOccupancyMessage("control_pri", 10, 0))
	assert.False(t, ok)
	_, ok = tracker.HandleAblyError(NewAblyError(40142, 401, "", "", 0))
	assert.False(t, ok)
}

func TestTrackerReset(t *testing.T) {
	tracker := NewStatusTracker(nil, nil)
	tracker.HandleControlMessage(NewControlMessage("control_pri", 50, ControlStreamingPaused))
	tracker.NotifyShutdownExpected()

	tracker.Reset()
	assert.False(t, tracker.ShutdownExpected())

	// Timestamps are cleared too, so an older message applies again.
	s, ok := tracker.HandleControlMessage(NewControlMessage("control_pri", 10, ControlStreamingPaused))
	requireStatus(t, StatusDown, s, ok)
}

func TestTrackerRecordsTelemetry(t *testing.T) {
	rt := telemetry.NewRuntime()
	tracker := NewStatusTracker(rt, nil)

	tracker.HandleOccupancy(NewOccupancyMessage("control_sec", 10, 1))
	tracker.HandleControlMessage(NewControlMessage("control_pri", 10, ControlStreamingPaused))

	events := rt.PopStreamingEvents()
	require.Len(t, events, 2)
	assert.Equal(t, telemetry.EventTypeOccupancySec, events[0].Type)
	assert.Equal(t, int64(1), events[0].Data)
	assert.Equal(t, telemetry.EventTypeStreamingStatus, events[1].Type)
	assert.Equal(t, telemetry.StreamingPaused, events[1].Data)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "PUSH_SUBSYSTEM_UP", StatusUp.String())
	assert.Equal(t, "PUSH_NONRETRYABLE_ERROR", StatusNonRetryableError.String())
}
