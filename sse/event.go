package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single server-sent event frame. Fields that were absent on the
// wire, or present without a value, are empty.
type Event struct {
	ID    string
	Event string
	Retry string
	Data  string
}

// IsError reports whether the frame was sent with the "error" event name.
func (e Event) IsError() bool {
	return e.Event == "error"
}

// Decoder reads line-delimited SSE frames from a stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode returns the next complete event. Comment lines are dropped, frames
// carrying no known field are skipped. A trailing frame that is not
// terminated by a blank line is discarded and the underlying read error
// (io.EOF for a clean close) is returned.
func (d *Decoder) Decode() (Event, error) {
	var b frameBuilder
	for {
		raw, err := d.r.ReadString('\n')
		if err != nil {
			return Event{}, err
		}

		line := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")
		switch {
		case line == "":
			if b.empty() {
				continue
			}
			return b.event(), nil
		case strings.HasPrefix(line, ":"):
			continue
		}
		b.add(line)
	}
}

type frameBuilder struct {
	ev    Event
	count int
	data  []string
}

func (b *frameBuilder) add(line string) {
	key, value, _ := strings.Cut(line, ":")
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	switch key {
	case "id":
		b.ev.ID = value
	case "event":
		b.ev.Event = value
	case "retry":
		b.ev.Retry = value
	case "data":
		b.data = append(b.data, value)
	default:
		return
	}
	b.count++
}

func (b *frameBuilder) empty() bool {
	return b.count == 0
}

func (b *frameBuilder) event() Event {
	ev := b.ev
	ev.Data = strings.Join(b.data, "\n")
	return ev
}
