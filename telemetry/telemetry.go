// Package telemetry records runtime streaming telemetry: lifecycle events of
// the push subsystem and counts of updates applied directly from
// notifications.
package telemetry

import (
	"sync"
	"time"
)

// MaxStreamingEvents caps the number of buffered streaming events.
const MaxStreamingEvents = 20

// StreamingEventType identifies a streaming lifecycle event.
type StreamingEventType int

const (
	EventTypeConnectionEstablished StreamingEventType = 0
	EventTypeOccupancyPri          StreamingEventType = 10
	EventTypeOccupancySec          StreamingEventType = 20
	EventTypeStreamingStatus       StreamingEventType = 30
	EventTypeConnectionError       StreamingEventType = 40
	EventTypeTokenRefresh          StreamingEventType = 50
	EventTypeAblyError             StreamingEventType = 60
	EventTypeSyncMode              StreamingEventType = 70
)

// Data values for EventTypeStreamingStatus.
const (
	StreamingEnabled  int64 = 0
	StreamingDisabled int64 = 1
	StreamingPaused   int64 = 2
)

// Data values for EventTypeConnectionError.
const (
	Requested    int64 = 0
	NonRequested int64 = 1
)

// Data values for EventTypeSyncMode.
const (
	SyncModeStreaming int64 = 0
	SyncModePolling   int64 = 1
)

// UpdateFromSSE is the kind of update applied without a fetch.
type UpdateFromSSE string

// SplitUpdate counts feature flags applied from an inline definition.
const SplitUpdate UpdateFromSSE = "sp"

// StreamingEvent is a single recorded event. Timestamp is in milliseconds.
type StreamingEvent struct {
	Type      StreamingEventType `json:"e"`
	Data      int64              `json:"d,omitempty"`
	Timestamp int64              `json:"t"`
}

// NewStreamingEvent stamps an event with the current time.
func NewStreamingEvent(t StreamingEventType, data int64) StreamingEvent {
	return StreamingEvent{Type: t, Data: data, Timestamp: time.Now().UnixMilli()}
}

// RuntimeProducer is the sink the push subsystem records into.
type RuntimeProducer interface {
	RecordStreamingEvent(event StreamingEvent)
	RecordUpdatesFromSSE(kind UpdateFromSSE)
}

// Runtime is an in-memory RuntimeProducer.
type Runtime struct {
	mu      sync.Mutex
	events  []StreamingEvent
	updates map[UpdateFromSSE]int64
}

// NewRuntime creates an empty Runtime.
func NewRuntime() *Runtime {
	return &Runtime{updates: make(map[UpdateFromSSE]int64)}
}

// RecordStreamingEvent buffers event. Once MaxStreamingEvents are held the
// oldest one is evicted.
func (r *Runtime) RecordStreamingEvent(event StreamingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) >= MaxStreamingEvents {
		r.events = append(r.events[:0], r.events[len(r.events)-MaxStreamingEvents+1:]...)
	}
	r.events = append(r.events, event)
}

func (r *Runtime) RecordUpdatesFromSSE(kind UpdateFromSSE) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[kind]++
}

// PopStreamingEvents returns and clears the buffered events.
func (r *Runtime) PopStreamingEvents() []StreamingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events
	r.events = nil
	return events
}

// PeekStreamingEvents returns a copy of the buffered events.
func (r *Runtime) PeekStreamingEvents() []StreamingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StreamingEvent(nil), r.events...)
}

// PopUpdatesFromSSE returns and resets the counters.
func (r *Runtime) PopUpdatesFromSSE() map[UpdateFromSSE]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	updates := r.updates
	r.updates = make(map[UpdateFromSSE]int64)
	return updates
}

// PeekUpdatesFromSSE returns a copy of the counters.
func (r *Runtime) PeekUpdatesFromSSE() map[UpdateFromSSE]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[UpdateFromSSE]int64, len(r.updates))
	for k, v := range r.updates {
		out[k] = v
	}
	return out
}

// NoOp discards everything.
type NoOp struct{}

func (NoOp) RecordStreamingEvent(StreamingEvent) {}
func (NoOp) RecordUpdatesFromSSE(UpdateFromSSE) {}
