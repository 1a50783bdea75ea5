package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// Reloadable is anything that can re-run its full load.
type Reloadable interface {
	Reload() error
}

// Reloader re-runs a full reload periodically and on demand.
// A zero interval disables the ticker; manual triggers still work.
type Reloader struct {
	target   Reloadable
	logger   logger.Logger
	interval time.Duration
	trigger  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReloader creates a reloader for target.
func NewReloader(target Reloadable, log logger.Logger, interval time.Duration) *Reloader {
	return &Reloader{
		target:   target,
		logger:   log,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the reload loop in the background until Stop or ctx is done.
func (r *Reloader) Start(ctx context.Context) {
	go func() {
		var tick <-chan time.Time
		if r.interval > 0 {
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-tick:
				r.reload("periodic")
			case <-r.trigger:
				r.reload("manual")
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Trigger asks for a reload. It returns false when one is already pending.
func (r *Reloader) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop stops the loop. Safe to call more than once.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Reloader) reload(kind string) {
	r.logger.Debug("bookmark reload triggered", logger.String("kind", kind))
	if err := r.target.Reload(); err != nil {
		r.logger.Warn("failed to reload bookmarks",
			logger.String("kind", kind),
			logger.Error(err))
	}
}
