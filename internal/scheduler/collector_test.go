package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MrSnakeDoc/shelf/internal/logger"
)

type fakeSweeper struct {
	mu     sync.Mutex
	sweeps []time.Time
	closed int
}

func (f *fakeSweeper) Sweep(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps = append(f.sweeps, now)
	return f.closed
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sweeps)
}

func TestCollector_Collect(t *testing.T) {
	sweeper := &fakeSweeper{closed: 2}
	gc := NewCollector(sweeper, logger.New("error", false), time.Hour)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gc.now = func() time.Time { return fixed }

	assert.Equal(t, 2, gc.Collect())
	assert.Equal(t, []time.Time{fixed}, sweeper.sweeps)
}

func TestCollector_DefaultInterval(t *testing.T) {
	gc := NewCollector(&fakeSweeper{}, logger.NewNop(), 0)
	assert.Equal(t, time.Minute, gc.interval)
}

func TestCollector_StartStop(t *testing.T) {
	sweeper := &fakeSweeper{}
	gc := NewCollector(sweeper, logger.NewNop(), 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- gc.Start(context.Background()) }()

	assert.Eventually(t, func() bool { return sweeper.count() >= 2 }, time.Second, 5*time.Millisecond)

	gc.Stop()
	gc.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
