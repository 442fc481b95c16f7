package routes

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/b-open-io/flagpush/pubsub"
	"github.com/b-open-io/flagpush/sync"
	"github.com/b-open-io/flagpush/telemetry"
	"github.com/gofiber/fiber/v2"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedMode sync.Mode

func (m fixedMode) Mode() sync.Mode { return sync.Mode(m) }

func newStatusApp(t *testing.T, cfg *StatusRoutesConfig) *fiber.App {
	t.Helper()
	app := fiber.New()
	RegisterStatusRoutes(app.Group("/api/v1"), cfg)
	return app
}

func TestStatusRoute(t *testing.T) {
	runtime := telemetry.NewRuntime()
	runtime.RecordStreamingEvent(telemetry.NewStreamingEvent(telemetry.EventTypeConnectionEstablished, 0))
	runtime.RecordUpdatesFromSSE(telemetry.SplitUpdate)

	app := newStatusApp(t, &StatusRoutesConfig{
		Mode:      fixedMode(sync.ModeStreaming),
		Telemetry: runtime,
		Context:   context.Background(),
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/status", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, sync.ModeStreaming, body.Mode)
	require.Len(t, body.StreamingEvents, 1)
	assert.Equal(t, telemetry.EventTypeConnectionEstablished, body.StreamingEvents[0].Type)
	assert.Equal(t, int64(1), body.UpdatesFromSSE[telemetry.SplitUpdate])

	// Reading status does not consume telemetry.
	assert.Len(t, runtime.PopStreamingEvents(), 1)
}

func TestStatusRouteWithoutTelemetry(t *testing.T) {
	app := newStatusApp(t, &StatusRoutesConfig{
		Mode:    fixedMode(sync.ModePolling),
		Context: context.Background(),
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/status", nil))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"polling","streamingEvents":[],"updatesFromSSE":{}}`, string(raw))
}

func TestStatusStreamRequiresPubSub(t *testing.T) {
	app := newStatusApp(t, &StatusRoutesConfig{
		Mode:    fixedMode(sync.ModePolling),
		Context: context.Background(),
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/status/stream", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusStream(t *testing.T) {
	ps := pubsub.NewChannelPubSub()
	defer ps.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := newStatusApp(t, &StatusRoutesConfig{
		Mode:    fixedMode(sync.ModePolling),
		PubSub:  ps,
		Context: ctx,
	})

	// Publish until the stream has certainly subscribed, then end it.
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.After(300 * time.Millisecond)
		for {
			select {
			case <-ticker.C:
				ps.Publish(context.Background(), pubsub.TopicSyncMode, `{"mode":"streaming"}`)
			case <-deadline:
				cancel()
				return
			}
		}
	}()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/status/stream", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.True(t, strings.HasPrefix(body, "data: {\"mode\":\"polling\"}\n\n"), body)
	assert.Contains(t, body, "event: sync:mode\ndata: {\"mode\":\"streaming\"}\n\n")
}
