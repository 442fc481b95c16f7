// Command streamwatch connects to the streaming service, keeps local storage
// in sync with push notifications and serves the synchronization status.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/b-open-io/flagpush/config"
	"github.com/b-open-io/flagpush/internal/utils"
	"github.com/b-open-io/flagpush/pubsub"
	"github.com/b-open-io/flagpush/push"
	"github.com/b-open-io/flagpush/routes"
	"github.com/b-open-io/flagpush/sse"
	"github.com/b-open-io/flagpush/sync"
	"github.com/b-open-io/flagpush/telemetry"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
)

func init() {
	godotenv.Load(".env")
}

// loadConfig reads the environment, then lets flags override it.
func loadConfig() (*config.Config, bool) {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var verbose bool
	flag.StringVar(&cfg.SDKKey, "key", cfg.SDKKey, "SDK key")
	flag.StringVar(&cfg.AuthURL, "auth", cfg.AuthURL, "Auth service URL")
	flag.StringVar(&cfg.StreamingURL, "streaming", cfg.StreamingURL, "Streaming service URL")
	flag.BoolVar(&cfg.StreamingEnabled, "stream", cfg.StreamingEnabled, "Enable streaming")
	flag.StringVar(&cfg.StorageURL, "storage", cfg.StorageURL, "Storage connection string")
	flag.StringVar(&cfg.PubSubURL, "pubsub", cfg.PubSubURL, "Pub/sub connection string")
	flag.StringVar(&cfg.StatusAddr, "addr", cfg.StatusAddr, "Status server address")
	flag.BoolVar(&verbose, "v", false, "Log debug messages")
	flag.Parse()
	return cfg, verbose
}

func main() {
	cfg, verbose := loadConfig()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		logger.Info("Received shutdown signal, shutting down...")
		cancel()
	}()

	backends, err := config.CreateBackends(cfg)
	if err != nil {
		log.Fatalf("Failed to create backends: %v", err)
	}
	defer backends.Close()
	logger.Info("Backends ready",
		"storage", utils.SanitizeConnectionString(cfg.StorageURL),
		"pubsub", utils.SanitizeConnectionString(cfg.PubSubURL))

	runtime := telemetry.NewRuntime()
	synchronizer := &storageSynchronizer{
		flags:    backends.FeatureFlags,
		segments: backends.Segments,
		logger:   logger.With("component", "synchronizer"),
	}

	syncCfg := &sync.Config{
		Fetcher:    synchronizer,
		PubSub:     backends.PubSub,
		Telemetry:  runtime,
		BackoffMin: cfg.BackoffMin,
		BackoffMax: cfg.BackoffMax,
		Logger:     logger,
	}
	if cfg.StreamingEnabled {
		feedback := make(chan push.Status, 16)
		pushManager, err := push.NewManager(&push.ManagerConfig{
			StreamingURL:   cfg.StreamingURL,
			Headers:        cfg.Metadata.Headers(cfg.SDKKey),
			Authenticator:  push.NewHTTPAuthenticator(cfg.AuthURL, cfg.SDKKey, cfg.Metadata, nil),
			Synchronizer:   synchronizer,
			FlagStorage:    backends.FeatureFlags,
			SegmentStorage: backends.Segments,
			Feedback:       feedback,
			Telemetry:      runtime,
			Transport:      sse.NewClient(sse.WithLogger(logger)),
			Logger:         logger,
		})
		if err != nil {
			log.Fatalf("Failed to create push manager: %v", err)
		}
		syncCfg.Push = pushManager
		syncCfg.Feedback = feedback
	}

	supervisor, err := sync.NewManager(syncCfg)
	if err != nil {
		log.Fatalf("Failed to create sync manager: %v", err)
	}

	go watchModes(ctx, backends.PubSub, logger)

	if err := supervisor.Start(ctx); err != nil {
		log.Fatalf("Failed to start sync manager: %v", err)
	}
	defer supervisor.Stop()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	routes.RegisterStatusRoutes(app.Group("/api/v1"), &routes.StatusRoutesConfig{
		Mode:      supervisor,
		Telemetry: runtime,
		PubSub:    backends.PubSub,
		Context:   ctx,
		Logger:    logger,
	})

	go func() {
		logger.Info("Serving status", "addr", cfg.StatusAddr)
		if err := app.Listen(cfg.StatusAddr); err != nil {
			logger.Error("Status server stopped", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Error("Failed to shut down status server", "error", err)
	}
	logger.Info("Shutdown complete")
}

// watchModes logs every published sync mode change.
func watchModes(ctx context.Context, ps pubsub.PubSub, logger *slog.Logger) {
	events, err := ps.Subscribe(ctx, []string{pubsub.TopicSyncMode})
	if err != nil {
		logger.Error("Failed to subscribe to mode events", "error", err)
		return
	}
	for ev := range events {
		logger.Info("Sync mode event", "data", ev.Data)
	}
}
