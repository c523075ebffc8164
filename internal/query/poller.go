package query

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller runs the cache refresh loop and restarts it when the operator
// changes the auto-refresh settings.
type Poller struct {
	cache  *Cache
	parent context.Context

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPoller creates a stopped poller. Every loop it starts ends with ctx.
func NewPoller(ctx context.Context, cache *Cache) *Poller {
	return &Poller{cache: cache, parent: ctx}
}

// Apply starts polling every interval when enabled, or stops polling. A
// call with the running interval is a no-op.
func (p *Poller) Apply(enabled bool, interval time.Duration) {
	if !enabled {
		interval = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if interval == p.interval && (interval == 0 || p.cancel != nil) {
		return
	}
	p.stopLocked()
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(p.parent)
	done := make(chan struct{})
	p.interval, p.cancel, p.done = interval, cancel, done
	go func() {
		defer close(done)
		p.cache.Run(ctx, interval)
	}()
	p.cache.logger.Debug("query polling started", zap.Duration("interval", interval))
}

// Interval returns the running poll interval, or zero when stopped.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Stop ends polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	p.interval, p.cancel, p.done = 0, nil, nil
}
