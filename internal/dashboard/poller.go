package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Poller rebuilds the default figure on every tick, so that page loads
// between two ticks are served without touching the store.
type Poller struct {
	interval time.Duration
	build    func(ctx context.Context) (Figure, error)

	mu    sync.RWMutex
	fig   Figure
	built time.Time
	ok    bool

	polls    atomic.Int64
	failures atomic.Int64
}

// NewPoller creates a poller calling build once per interval.
func NewPoller(interval time.Duration, build func(ctx context.Context) (Figure, error)) *Poller {
	return &Poller{interval: interval, build: build}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll rebuilds the figure once. A failed build drops the previous figure,
// so readers fall back to the store and see its error.
func (p *Poller) Poll(ctx context.Context) {
	p.polls.Add(1)

	fig, err := p.build(ctx)
	if err != nil {
		p.failures.Add(1)
		log.Debug("figure poll failed", "error", err)

		p.mu.Lock()
		p.fig, p.ok = Figure{}, false
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.fig, p.built, p.ok = fig, time.Now(), true
	p.mu.Unlock()
}

// Current returns the last figure if it was built within one interval.
func (p *Poller) Current() (Figure, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.ok || time.Since(p.built) > p.interval {
		return Figure{}, false
	}
	return p.fig, true
}

// PollerStats holds poller counters.
type PollerStats struct {
	Polls    int64 `json:"polls"`
	Failures int64 `json:"failures"`
}

// Stats returns poller counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{Polls: p.polls.Load(), Failures: p.failures.Load()}
}
