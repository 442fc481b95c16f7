package sync

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often everything is fetched while streaming is
// unavailable.
const DefaultPollInterval = 60 * time.Second

// poller runs fetch on a fixed interval. It is owned by a single goroutine
// and needs no locking.
type poller struct {
	interval time.Duration
	fetch    func(ctx context.Context) error
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func (p *poller) running() bool {
	return p.cancel != nil
}

func (p *poller) start(ctx context.Context) {
	if p.running() {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	p.logger.Info("Periodic fetching started", "interval", p.interval)
}

func (p *poller) stop() {
	if !p.running() {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.logger.Info("Periodic fetching stopped")
}

func (p *poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.fetch(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("Periodic fetch failed", "error", err)
			}
		}
	}
}
