package sse

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderDropsComments(t *testing.T) {
	dec := NewDecoder(strings.NewReader(":hi\r\nid: 1\r\nevent: message\r\ndata: abc\r\n\r\n"))

	ev, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, Event{ID: "1", Event: "message", Data: "abc"}, ev)

	_, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderMultipleFrames(t *testing.T) {
	stream := "event: message\ndata: first\n\n" +
		":keepalive\n\n" +
		"id: 2\nevent: error\ndata: {\"code\":40142}\nretry: 1000\n\n"
	dec := NewDecoder(strings.NewReader(stream))

	first, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "first", first.Data)
	assert.False(t, first.IsError())

	second, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, Event{ID: "2", Event: "error", Data: `{"code":40142}`, Retry: "1000"}, second)
	assert.True(t, second.IsError())
}

func TestDecoderValueContainingColons(t *testing.T) {
	dec := NewDecoder(strings.NewReader("data: {\"a\":\"b:c\"}\n\n"))

	ev, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, `{"a":"b:c"}`, ev.Data)
}

func TestDecoderKeyWithoutValue(t *testing.T) {
	dec := NewDecoder(strings.NewReader("event\ndata: x\n\n"))

	ev, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "", ev.Event)
	assert.Equal(t, "x", ev.Data)
}

func TestDecoderJoinsDataLines(t *testing.T) {
	dec := NewDecoder(strings.NewReader("data: a\ndata: b\n\n"))

	ev, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "a\nb", ev.Data)
}

func TestDecoderDiscardsUnterminatedFrame(t *testing.T) {
	dec := NewDecoder(strings.NewReader("event: message\ndata: partial\n"))

	_, err := dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}
