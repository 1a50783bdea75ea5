package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// Sweeper closes whatever has been idle for longer than its own threshold
// and reports how many entries it removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Collector periodically sweeps idle bookmark views.
type Collector struct {
	target   Sweeper
	logger   logger.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new collector. A zero interval defaults to one minute.
func NewCollector(target Sweeper, log logger.Logger, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Collector{
		target:   target,
		logger:   log,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep. It blocks until Stop or ctx is done, so
// callers run it in their own goroutine (or errgroup).
func (c *Collector) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop stops the collector.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect runs one sweep and returns the number of views closed.
func (c *Collector) Collect() int {
	closed := c.target.Sweep(c.now())
	if closed > 0 {
		c.logger.Info("closed idle bookmark views", logger.Int("closed", closed))
	} else {
		c.logger.Debug("no idle bookmark views to close")
	}
	return closed
}
