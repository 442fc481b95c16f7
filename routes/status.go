package routes

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/b-open-io/flagpush/pubsub"
	"github.com/b-open-io/flagpush/sync"
	"github.com/b-open-io/flagpush/telemetry"
	"github.com/gofiber/fiber/v2"
)

const pingInterval = 15 * time.Second

// ModeSource reports the current synchronization mode, see sync.Manager.
type ModeSource interface {
	Mode() sync.Mode
}

// TelemetrySource exposes recorded telemetry without consuming it.
type TelemetrySource interface {
	PeekStreamingEvents() []telemetry.StreamingEvent
	PeekUpdatesFromSSE() map[telemetry.UpdateFromSSE]int64
}

// StatusRoutesConfig holds the configuration for status routes
type StatusRoutesConfig struct {
	Mode      ModeSource
	Telemetry TelemetrySource
	PubSub    pubsub.PubSub
	Context   context.Context
	Logger    *slog.Logger
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Mode            sync.Mode                         `json:"mode"`
	StreamingEvents []telemetry.StreamingEvent        `json:"streamingEvents"`
	UpdatesFromSSE  map[telemetry.UpdateFromSSE]int64 `json:"updatesFromSSE"`
}

// RegisterStatusRoutes registers the synchronization status routes:
//
//	GET /status         current mode and recorded telemetry
//	GET /status/stream  server-sent events for every sync mode event
func RegisterStatusRoutes(group fiber.Router, config *StatusRoutesConfig) {
	if config == nil || config.Mode == nil || config.Context == nil {
		log.Fatal("RegisterStatusRoutes: config, mode source, and context are required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "status-routes")
	ctx := config.Context

	group.Get("/status", func(c *fiber.Ctx) error {
		resp := StatusResponse{
			Mode:            config.Mode.Mode(),
			StreamingEvents: []telemetry.StreamingEvent{},
			UpdatesFromSSE:  map[telemetry.UpdateFromSSE]int64{},
		}
		if config.Telemetry != nil {
			resp.StreamingEvents = append(resp.StreamingEvents, config.Telemetry.PeekStreamingEvents()...)
			for k, v := range config.Telemetry.PeekUpdatesFromSSE() {
				resp.UpdatesFromSSE[k] = v
			}
		}
		return c.JSON(resp)
	})

	group.Get("/status/stream", func(c *fiber.Ctx) error {
		if config.PubSub == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"message": "mode events are not published",
			})
		}

		streamCtx, cancel := context.WithCancel(ctx)
		events, err := config.PubSub.Subscribe(streamCtx, []string{pubsub.TopicSyncMode})
		if err != nil {
			cancel()
			logger.Error("Failed to subscribe to mode events", "error", err)
			return c.SendStatus(fiber.StatusInternalServerError)
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no")
		c.Set("Access-Control-Allow-Origin", "*")

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer cancel()

			fmt.Fprintf(w, "data: {\"mode\":%q}\n\n", config.Mode.Mode())
			if err := w.Flush(); err != nil {
				return
			}

			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()

			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, ev.Data)
					if err := w.Flush(); err != nil {
						return
					}
				case <-ticker.C:
					fmt.Fprintf(w, ": ping\n\n")
					if err := w.Flush(); err != nil {
						return
					}
				case <-streamCtx.Done():
					return
				}
			}
		})

		return nil
	})
}
