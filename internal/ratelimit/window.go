// Package ratelimit implements the global send budget: a fixed one-minute window
// that resets wholesale once it has elapsed.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
)

// WindowDuration is the length of one send window.
const WindowDuration = time.Minute

// Limiter answers whether a send may proceed now. It never blocks or retries;
// callers decide what to do on false.
type Limiter interface {
	Allow(ctx context.Context) (bool, error)
}

// Window is the in-process limiter. Safe for concurrent use.
type Window struct {
	mu       sync.Mutex
	clock    clock.Clock
	capacity int
	count    int
	start    time.Time
	duration time.Duration
}

// NewWindow returns a window allowing capacity sends per minute.
// A capacity of zero (or less) pauses sending.
func NewWindow(capacity int, clk clock.Clock) *Window {
	if capacity < 0 {
		capacity = 0
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Window{
		clock:    clk,
		capacity: capacity,
		start:    clk.Now(),
		duration: WindowDuration,
	}
}

// TryAcquire rolls the window forward if it has elapsed and then takes one slot
// if any remain. Rollover and increment happen under the same lock.
func (w *Window) TryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if !now.Before(w.start.Add(w.duration)) {
		// skipped windows are not banked
		w.start = now
		w.count = 0
	}
	if w.count >= w.capacity {
		return false
	}
	w.count++
	return true
}

// Allow implements Limiter.
func (w *Window) Allow(_ context.Context) (bool, error) {
	return w.TryAcquire(), nil
}
