package push

// Notification is any decoded streaming payload: one of *SplitChangeUpdate,
// *SplitKillUpdate, *SegmentChangeUpdate, *ControlMessage,
// *OccupancyMessage or *AblyError.
type Notification interface {
	notification()
}

// UpdateType names the payload type of an update message.
type UpdateType string

const (
	UpdateTypeSplitChange   UpdateType = "SPLIT_UPDATE"
	UpdateTypeSplitKill     UpdateType = "SPLIT_KILL"
	UpdateTypeSegmentChange UpdateType = "SEGMENT_UPDATE"
	UpdateTypeControl       UpdateType = "CONTROL"
)

// updateTypeStop never arrives on the wire, it stops a worker loop.
const updateTypeStop UpdateType = "STOP"

// Update is a data notification routed to a worker.
type Update interface {
	Notification
	Channel() string
	Timestamp() int64
	ChangeNumber() int64
	UpdateType() UpdateType
}

type baseUpdate struct {
	channel      string
	timestamp    int64
	changeNumber int64
}

func (b baseUpdate) notification()       {}
func (b baseUpdate) Channel() string     { return b.channel }
func (b baseUpdate) Timestamp() int64    { return b.timestamp }
func (b baseUpdate) ChangeNumber() int64 { return b.changeNumber }

// Compression tags the encoding of an inline feature-flag definition.
type Compression int

const (
	CompressionNone Compression = 0
	CompressionGzip Compression = 1
	CompressionZlib Compression = 2
)

// SplitChangeUpdate announces a new feature-flag change number, optionally
// carrying the changed definition inline.
type SplitChangeUpdate struct {
	baseUpdate
	previousChangeNumber *int64
	compression          *Compression
	definition           string
}

// NewSplitChangeUpdate builds a feature-flag change notification. pcn and
// compression are nil when absent from the payload.
func NewSplitChangeUpdate(channel string, timestamp, changeNumber int64, pcn *int64, compression *Compression, definition string) *SplitChangeUpdate {
	return &SplitChangeUpdate{
		baseUpdate:           baseUpdate{channel: channel, timestamp: timestamp, changeNumber: changeNumber},
		previousChangeNumber: pcn,
		compression:          compression,
		definition:           definition,
	}
}

func (u *SplitChangeUpdate) UpdateType() UpdateType { return UpdateTypeSplitChange }

// PreviousChangeNumber reports the change number the inline definition
// applies on top of.
func (u *SplitChangeUpdate) PreviousChangeNumber() (int64, bool) {
	if u.previousChangeNumber == nil {
		return 0, false
	}
	return *u.previousChangeNumber, true
}

// Compression reports how the inline definition is encoded.
func (u *SplitChangeUpdate) Compression() (Compression, bool) {
	if u.compression == nil {
		return CompressionNone, false
	}
	return *u.compression, true
}

// Definition returns the base64 inline definition, empty when absent.
func (u *SplitChangeUpdate) Definition() string { return u.definition }

// SplitKillUpdate kills a feature flag, forcing its default treatment.
type SplitKillUpdate struct {
	baseUpdate
	splitName        string
	defaultTreatment string
}

func NewSplitKillUpdate(channel string, timestamp, changeNumber int64, splitName, defaultTreatment string) *SplitKillUpdate {
	return &SplitKillUpdate{
		baseUpdate:       baseUpdate{channel: channel, timestamp: timestamp, changeNumber: changeNumber},
		splitName:        splitName,
		defaultTreatment: defaultTreatment,
	}
}

func (u *SplitKillUpdate) UpdateType() UpdateType   { return UpdateTypeSplitKill }
func (u *SplitKillUpdate) SplitName() string        { return u.splitName }
func (u *SplitKillUpdate) DefaultTreatment() string { return u.defaultTreatment }

// SegmentChangeUpdate announces a new change number for a segment.
type SegmentChangeUpdate struct {
	baseUpdate
	segmentName string
}

func NewSegmentChangeUpdate(channel string, timestamp, changeNumber int64, segmentName string) *SegmentChangeUpdate {
	return &SegmentChangeUpdate{
		baseUpdate:  baseUpdate{channel: channel, timestamp: timestamp, changeNumber: changeNumber},
		segmentName: segmentName,
	}
}

func (u *SegmentChangeUpdate) UpdateType() UpdateType { return UpdateTypeSegmentChange }
func (u *SegmentChangeUpdate) SegmentName() string    { return u.segmentName }

// stopUpdate is the poison pill placed on a worker queue.
type stopUpdate struct {
	baseUpdate
}

func (stopUpdate) UpdateType() UpdateType { return updateTypeStop }

// ControlType is the instruction carried by a control message.
type ControlType string

const (
	ControlStreamingEnabled  ControlType = "STREAMING_ENABLED"
	ControlStreamingPaused   ControlType = "STREAMING_PAUSED"
	ControlStreamingDisabled ControlType = "STREAMING_DISABLED"
)

// ControlMessage pauses, resumes or disables streaming.
type ControlMessage struct {
	channel     string
	timestamp   int64
	controlType ControlType
}

func NewControlMessage(channel string, timestamp int64, controlType ControlType) *ControlMessage {
	return &ControlMessage{channel: channel, timestamp: timestamp, controlType: controlType}
}

func (*ControlMessage) notification()              {}
func (m *ControlMessage) Channel() string          { return m.channel }
func (m *ControlMessage) Timestamp() int64         { return m.timestamp }
func (m *ControlMessage) ControlType() ControlType { return m.controlType }

// OccupancyMessage reports the publisher count of a control channel.
type OccupancyMessage struct {
	channel    string
	timestamp  int64
	publishers int
}

func NewOccupancyMessage(channel string, timestamp int64, publishers int) *OccupancyMessage {
	return &OccupancyMessage{channel: channel, timestamp: timestamp, publishers: publishers}
}

func (*OccupancyMessage) notification()      {}
func (m *OccupancyMessage) Channel() string  { return m.channel }
func (m *OccupancyMessage) Timestamp() int64 { return m.timestamp }
func (m *OccupancyMessage) Publishers() int  { return m.publishers }

// AblyError is an error frame sent by the streaming service.
type AblyError struct {
	code       int
	statusCode int
	message    string
	href       string
	timestamp  int64
}

func NewAblyError(code, statusCode int, message, href string, timestamp int64) *AblyError {
	return &AblyError{code: code, statusCode: statusCode, message: message, href: href, timestamp: timestamp}
}

func (*AblyError) notification()      {}
func (e *AblyError) Code() int        { return e.code }
func (e *AblyError) StatusCode() int  { return e.statusCode }
func (e *AblyError) Message() string  { return e.message }
func (e *AblyError) Href() string     { return e.href }
func (e *AblyError) Timestamp() int64 { return e.timestamp }

// IsRetryable reports token-related errors, fixed by reauthenticating.
func (e *AblyError) IsRetryable() bool {
	return e.code >= 40140 && e.code <= 40149
}

// ShouldBeIgnored reports errors outside the 4xxxx family, which do not
// affect the connection.
func (e *AblyError) ShouldBeIgnored() bool {
	return e.code < 40000 || e.code > 49999
}
