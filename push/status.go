package push

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/b-open-io/flagpush/telemetry"
)

// Status is a push subsystem transition reported to the supervisor.
type Status int

const (
	StatusUp Status = iota
	StatusDown
	StatusRetryableError
	StatusNonRetryableError
)

func (s Status) String() string {
	switch s {
	case StatusUp:
		return "PUSH_SUBSYSTEM_UP"
	case StatusDown:
		return "PUSH_SUBSYSTEM_DOWN"
	case StatusRetryableError:
		return "PUSH_RETRYABLE_ERROR"
	case StatusNonRetryableError:
		return "PUSH_NONRETRYABLE_ERROR"
	default:
		return "UNKNOWN"
	}
}

const (
	channelControlPri = "control_pri"
	channelControlSec = "control_sec"
)

// defaultPublishers assumes both control channels are healthy until the
// first occupancy message says otherwise.
const defaultPublishers = 2

// StatusTracker folds control, occupancy and error signals into at most one
// Status per transition.
type StatusTracker struct {
	telemetry telemetry.RuntimeProducer
	logger    *slog.Logger

	mu                 sync.Mutex
	lastControl        ControlType
	publishers         map[string]int
	lastStatus         Status
	controlTimestamp   int64
	occupancyTimestamp int64
	shutdownExpected   bool
}

// NewStatusTracker creates a tracker in its optimistic initial state. A nil
// producer records nothing.
func NewStatusTracker(producer telemetry.RuntimeProducer, logger *slog.Logger) *StatusTracker {
	if producer == nil {
		producer = telemetry.NoOp{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &StatusTracker{telemetry: producer, logger: logger.With("component", "status-tracker")}
	t.resetLocked()
	return t
}

// Reset restores the initial state. Called before every new connection.
func (t *StatusTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *StatusTracker) resetLocked() {
	t.lastControl = ControlStreamingEnabled
	t.publishers = map[string]int{
		channelControlPri: defaultPublishers,
		channelControlSec: defaultPublishers,
	}
	t.lastStatus = StatusUp
	t.controlTimestamp = 0
	t.occupancyTimestamp = 0
	t.shutdownExpected = false
}

// NotifyShutdownExpected marks the next disconnect as intentional.
func (t *StatusTracker) NotifyShutdownExpected() {
	t.mu.Lock()
	t.shutdownExpected = true
	t.mu.Unlock()
}

// ShutdownExpected reports whether a disconnect is expected.
func (t *StatusTracker) ShutdownExpected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shutdownExpected
}

// HandleOccupancy records the publisher count of a control channel.
func (t *StatusTracker) HandleOccupancy(msg *OccupancyMessage) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shutdownExpected {
		return 0, false
	}
	channel, ok := controlChannel(msg.Channel())
	if !ok {
		t.logger.Debug("Ignoring occupancy for unknown channel", "channel", msg.Channel())
		return 0, false
	}
	if msg.Timestamp() < t.occupancyTimestamp {
		t.logger.Debug("Ignoring stale occupancy message", "channel", channel, "timestamp", msg.Timestamp())
		return 0, false
	}

	t.occupancyTimestamp = msg.Timestamp()
	t.publishers[channel] = msg.Publishers()

	eventType := telemetry.EventTypeOccupancyPri
	if channel == channelControlSec {
		eventType = telemetry.EventTypeOccupancySec
	}
	t.telemetry.RecordStreamingEvent(telemetry.NewStreamingEvent(eventType, int64(msg.Publishers())))

	return t.updateStatusLocked()
}

// HandleControlMessage records the latest streaming instruction.
func (t *StatusTracker) HandleControlMessage(msg *ControlMessage) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shutdownExpected {
		return 0, false
	}
	if msg.Timestamp() < t.controlTimestamp {
		t.logger.Debug("Ignoring stale control message", "type", msg.ControlType(), "timestamp", msg.Timestamp())
		return 0, false
	}

	t.controlTimestamp = msg.Timestamp()
	t.lastControl = msg.ControlType()

	var data int64
	switch msg.ControlType() {
	case ControlStreamingEnabled:
		data = telemetry.StreamingEnabled
	case ControlStreamingPaused:
		data = telemetry.StreamingPaused
	case ControlStreamingDisabled:
		data = telemetry.StreamingDisabled
	}
	t.telemetry.RecordStreamingEvent(telemetry.NewStreamingEvent(telemetry.EventTypeStreamingStatus, data))

	return t.updateStatusLocked()
}

// HandleAblyError classifies an error frame. Any status returned means the
// connection must be torn down.
func (t *StatusTracker) HandleAblyError(e *AblyError) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shutdownExpected {
		return 0, false
	}
	t.telemetry.RecordStreamingEvent(telemetry.NewStreamingEvent(telemetry.EventTypeAblyError, int64(e.Code())))

	if e.ShouldBeIgnored() {
		t.logger.Debug("Ignoring streaming error", "code", e.Code(), "status", e.StatusCode(), "message", e.Message())
		return 0, false
	}

	t.shutdownExpected = true
	if e.IsRetryable() {
		t.logger.Info("Received retryable streaming error", "code", e.Code(), "message", e.Message())
		return t.propagateLocked(StatusRetryableError), true
	}
	t.logger.Info("Received non-retryable streaming error", "code", e.Code(), "message", e.Message())
	return t.propagateLocked(StatusNonRetryableError), true
}

// HandleDisconnect reports an unexpected connection loss as retryable.
func (t *StatusTracker) HandleDisconnect() (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shutdownExpected {
		return 0, false
	}
	return t.propagateLocked(StatusRetryableError), true
}

func (t *StatusTracker) updateStatusLocked() (Status, bool) {
	switch t.lastStatus {
	case StatusUp:
		if !t.occupancyOKLocked() || t.lastControl == ControlStreamingPaused {
			return t.propagateLocked(StatusDown), true
		}
		if t.lastControl == ControlStreamingDisabled {
			return t.propagateLocked(StatusNonRetryableError), true
		}
	case StatusDown:
		if t.occupancyOKLocked() && t.lastControl == ControlStreamingEnabled {
			return t.propagateLocked(StatusUp), true
		}
		if t.lastControl == ControlStreamingDisabled {
			return t.propagateLocked(StatusNonRetryableError), true
		}
	}
	return 0, false
}

func (t *StatusTracker) propagateLocked(s Status) Status {
	t.lastStatus = s
	return s
}

func (t *StatusTracker) occupancyOKLocked() bool {
	for _, n := range t.publishers {
		if n > 0 {
			return true
		}
	}
	return false
}

// controlChannel maps a full channel name such as
// "NzM2MDI5Mzc0_MTgyNTg1MTgwNg==_control_pri" to its tracked name.
func controlChannel(channel string) (string, bool) {
	channel = strings.TrimPrefix(channel, occupancyPrefix)
	for _, name := range []string{channelControlPri, channelControlSec} {
		if channel == name || strings.HasSuffix(channel, "_"+name) {
			return name, true
		}
	}
	return "", false
}
