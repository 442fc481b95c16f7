package push

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

type killCall struct {
	name             string
	defaultTreatment string
	changeNumber     int64
}

type segmentCall struct {
	name string
	till int64
}

// fakeSynchronizer records every call and reports them on calls.
type fakeSynchronizer struct {
	mu        sync.Mutex
	flagSyncs []int64
	segSyncs  []segmentCall
	kills     []killCall
	flagErr   error
	calls     chan string
}

func newFakeSynchronizer() *fakeSynchronizer {
	return &fakeSynchronizer{calls: make(chan string, 100)}
}

func (f *fakeSynchronizer) SynchronizeFeatureFlags(ctx context.Context, till int64) error {
	f.mu.Lock()
	f.flagSyncs = append(f.flagSyncs, till)
	err := f.flagErr
	f.mu.Unlock()
	f.calls <- fmt.Sprintf("flags:%d", till)
	return err
}

func (f *fakeSynchronizer) SynchronizeSegment(ctx context.Context, name string, till int64) error {
	f.mu.Lock()
	f.segSyncs = append(f.segSyncs, segmentCall{name: name, till: till})
	f.mu.Unlock()
	f.calls <- fmt.Sprintf("segment:%s:%d", name, till)
	return nil
}

func (f *fakeSynchronizer) KillFeatureFlag(ctx context.Context, name, defaultTreatment string, changeNumber int64) error {
	f.mu.Lock()
	f.kills = append(f.kills, killCall{name: name, defaultTreatment: defaultTreatment, changeNumber: changeNumber})
	f.mu.Unlock()
	f.calls <- "kill:" + name
	return nil
}

func (f *fakeSynchronizer) flagSyncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flagSyncs)
}

// waitCall blocks until the next recorded call.
func (f *fakeSynchronizer) waitCall(t *testing.T) string {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for synchronizer call")
		return ""
	}
}

// makeToken builds an unsigned JWT carrying the given channel capabilities.
func makeToken(t *testing.T, channels map[string][]string, iat, exp int64) string {
	t.Helper()
	capability, err := json.Marshal(channels)
	require.NoError(t, err)
	claims, err := json.Marshal(map[string]any{
		"x-ably-capability": string(capability),
		"x-ably-clientId":   "clientId",
		"iat":               iat,
		"exp":               exp,
	})
	require.NoError(t, err)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(claims) + ".signature"
}

func defaultChannels() map[string][]string {
	return map[string][]string{
		"NzM2MDI5Mzc0_MTgyNTg1MTgwNg==_segments": {"subscribe"},
		"NzM2MDI5Mzc0_MTgyNTg1MTgwNg==_splits":   {"subscribe"},
		"control_pri":                            {"subscribe", "channel-metadata:publishers"},
		"control_sec":                            {"subscribe", "channel-metadata:publishers"},
	}
}
