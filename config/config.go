// Package config loads process configuration from the environment and builds
// the storage and pub/sub backends it names.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/b-open-io/flagpush/push"
	"github.com/b-open-io/flagpush/sync"
)

const (
	DefaultAuthURL      = "https://auth.split.io/api"
	DefaultStreamingURL = "https://streaming.split.io"
	DefaultStatusAddr   = ":8089"
)

// Config is the process configuration. Zero values are replaced by defaults
// in FromEnv.
type Config struct {
	SDKKey           string
	AuthURL          string
	StreamingURL     string
	StreamingEnabled bool
	Metadata         push.Metadata

	// Connection strings, see storage.CreateStorage and pubsub.CreatePubSub.
	StorageURL string
	PubSubURL  string

	StatusAddr string
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// FromEnv reads the configuration from environment variables:
//
//	SDK_KEY, AUTH_URL, STREAMING_URL, STREAMING_ENABLED, SDK_VERSION,
//	MACHINE_NAME, MACHINE_IP, STORAGE_URL, PUBSUB_URL, STATUS_ADDR,
//	BACKOFF_MIN, BACKOFF_MAX
func FromEnv() (*Config, error) {
	cfg := &Config{
		SDKKey:       os.Getenv("SDK_KEY"),
		AuthURL:      envOr("AUTH_URL", DefaultAuthURL),
		StreamingURL: envOr("STREAMING_URL", DefaultStreamingURL),
		Metadata: push.Metadata{
			SDKVersion:  os.Getenv("SDK_VERSION"),
			MachineName: os.Getenv("MACHINE_NAME"),
			MachineIP:   os.Getenv("MACHINE_IP"),
		},
		StorageURL: os.Getenv("STORAGE_URL"),
		PubSubURL:  os.Getenv("PUBSUB_URL"),
		StatusAddr: envOr("STATUS_ADDR", DefaultStatusAddr),
	}

	var err error
	if cfg.StreamingEnabled, err = envBool("STREAMING_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.BackoffMin, err = envDuration("BACKOFF_MIN", sync.DefaultBackoffMin); err != nil {
		return nil, err
	}
	if cfg.BackoffMax, err = envDuration("BACKOFF_MAX", sync.DefaultBackoffMax); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot be used to start.
func (c *Config) Validate() error {
	if c.SDKKey == "" {
		return errors.New("SDK_KEY is required")
	}
	if c.BackoffMin > c.BackoffMax {
		return fmt.Errorf("backoff min %s exceeds max %s", c.BackoffMin, c.BackoffMax)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
