package push

import (
	"fmt"
	"strings"

	"github.com/b-open-io/flagpush/sse"
	"github.com/segmentio/encoding/json"
)

const (
	occupancyPrefix      = "[?occupancy=metrics.publishers]"
	occupancyMessageName = "[meta]occupancy"
)

// ParseError reports a frame that could not be decoded.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse notification: %s: %v", e.Reason, e.Err)
	}
	return "failed to parse notification: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type messageEnvelope struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"`
	Channel   *string `json:"channel"`
	Data      *string `json:"data"`
	Name      string  `json:"name"`
}

type updatePayload struct {
	Type             *UpdateType  `json:"type"`
	ChangeNumber     *int64       `json:"changeNumber"`
	PCN              *int64       `json:"pcn"`
	Compression      *Compression `json:"c"`
	Definition       string       `json:"d"`
	SplitName        *string      `json:"splitName"`
	DefaultTreatment *string      `json:"defaultTreatment"`
	SegmentName      *string      `json:"segmentName"`
	ControlType      *ControlType `json:"controlType"`
}

type occupancyPayload struct {
	Metrics *struct {
		Publishers int `json:"publishers"`
	} `json:"metrics"`
}

type errorPayload struct {
	Code       *int    `json:"code"`
	StatusCode *int    `json:"statusCode"`
	Message    *string `json:"message"`
	Href       *string `json:"href"`
	Timestamp  int64   `json:"timestamp"`
}

var eventParsers = map[string]func(data string) (Notification, error){
	"message": parseMessage,
	"error":   parseError,
}

// ParseNotification decodes an SSE frame into a Notification. Malformed
// frames, unknown event names and missing required keys yield *ParseError.
func ParseNotification(ev sse.Event) (Notification, error) {
	parse, ok := eventParsers[ev.Event]
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("no handler for event %q", ev.Event)}
	}
	return parse(ev.Data)
}

func parseMessage(data string) (Notification, error) {
	var env messageEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, &ParseError{Reason: "invalid message envelope", Err: err}
	}
	if env.Channel == nil || env.Data == nil {
		return nil, &ParseError{Reason: "message without channel or data"}
	}

	if env.Name == occupancyMessageName {
		return parseOccupancy(&env)
	}
	return parseUpdate(&env)
}

func parseOccupancy(env *messageEnvelope) (Notification, error) {
	var payload occupancyPayload
	if err := json.Unmarshal([]byte(*env.Data), &payload); err != nil {
		return nil, &ParseError{Reason: "invalid occupancy payload", Err: err}
	}
	if payload.Metrics == nil {
		return nil, &ParseError{Reason: "occupancy without metrics"}
	}
	channel := strings.TrimPrefix(*env.Channel, occupancyPrefix)
	return NewOccupancyMessage(channel, env.Timestamp, payload.Metrics.Publishers), nil
}

func parseUpdate(env *messageEnvelope) (Notification, error) {
	var p updatePayload
	if err := json.Unmarshal([]byte(*env.Data), &p); err != nil {
		return nil, &ParseError{Reason: "invalid update payload", Err: err}
	}
	if p.Type == nil {
		return nil, &ParseError{Reason: "update without type"}
	}

	channel := *env.Channel
	if *p.Type == UpdateTypeControl {
		if p.ControlType == nil {
			return nil, &ParseError{Reason: "control message without controlType"}
		}
		return NewControlMessage(channel, env.Timestamp, *p.ControlType), nil
	}

	if p.ChangeNumber == nil {
		return nil, &ParseError{Reason: fmt.Sprintf("%s without changeNumber", *p.Type)}
	}
	switch *p.Type {
	case UpdateTypeSplitChange:
		return NewSplitChangeUpdate(channel, env.Timestamp, *p.ChangeNumber, p.PCN, p.Compression, p.Definition), nil
	case UpdateTypeSplitKill:
		if p.SplitName == nil || p.DefaultTreatment == nil {
			return nil, &ParseError{Reason: "SPLIT_KILL without splitName or defaultTreatment"}
		}
		return NewSplitKillUpdate(channel, env.Timestamp, *p.ChangeNumber, *p.SplitName, *p.DefaultTreatment), nil
	case UpdateTypeSegmentChange:
		if p.SegmentName == nil {
			return nil, &ParseError{Reason: "SEGMENT_UPDATE without segmentName"}
		}
		return NewSegmentChangeUpdate(channel, env.Timestamp, *p.ChangeNumber, *p.SegmentName), nil
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unknown update type %q", *p.Type)}
	}
}

func parseError(data string) (Notification, error) {
	var p errorPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &ParseError{Reason: "invalid error payload", Err: err}
	}
	if p.Code == nil || p.StatusCode == nil || p.Message == nil || p.Href == nil {
		return nil, &ParseError{Reason: "error without code, statusCode, message or href"}
	}
	return NewAblyError(*p.Code, *p.StatusCode, *p.Message, *p.Href, p.Timestamp), nil
}
