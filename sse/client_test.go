package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamServer writes frames, then either closes or holds the connection
// open until the client goes away.
func streamServer(t *testing.T, frames []string, hold bool) (*httptest.Server, chan http.Header) {
	t.Helper()
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
		if hold {
			<-r.Context().Done()
		}
	}))
	t.Cleanup(srv.Close)
	return srv, headers
}

func TestStartRemoteClose(t *testing.T) {
	srv, headers := streamServer(t, []string{"event: message\ndata: a\n\n", "data: b\n\n"}, false)
	client := NewClient()

	var got []Event
	clean, err := client.Start(context.Background(), srv.URL, map[string]string{"SplitSDKVersion": "go-1.0.0"}, func(ev Event) {
		got = append(got, ev)
	})

	require.NoError(t, err)
	assert.False(t, clean)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Data)
	assert.Equal(t, "b", got[1].Data)

	h := <-headers
	assert.Equal(t, "text/event-stream", h.Get("Accept"))
	assert.Equal(t, "go-1.0.0", h.Get("SplitSDKVersion"))
}

func TestStartShutdownIsClean(t *testing.T) {
	srv, _ := streamServer(t, []string{"data: hello\n\n"}, true)
	client := NewClient()

	received := make(chan Event, 1)
	result := make(chan bool, 1)
	go func() {
		clean, _ := client.Start(context.Background(), srv.URL, nil, func(ev Event) {
			received <- ev
		})
		result <- clean
	}()

	select {
	case ev := <-received:
		assert.Equal(t, "hello", ev.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	_, err := client.Start(context.Background(), srv.URL, nil, func(Event) {})
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	client.Shutdown()
	client.Shutdown()

	select {
	case clean := <-result:
		assert.True(t, clean)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestStartNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	clean, err := NewClient().Start(context.Background(), srv.URL, nil, func(Event) {})
	assert.False(t, clean)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, http.StatusUnauthorized, connErr.StatusCode)
}

func TestStartIdleTimeout(t *testing.T) {
	srv, _ := streamServer(t, nil, true)
	client := NewClient(WithReadTimeout(100 * time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := client.Start(context.Background(), srv.URL, nil, func(Event) {})
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("idle timeout did not close the connection")
	}
}
