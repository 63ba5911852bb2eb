package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// windowState is a read-only view of a window.
type windowState struct {
	Count       int
	WindowStart time.Time
}

func snapshot(w *Window) windowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return windowState{Count: w.count, WindowStart: w.start}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.advance(d)
	return ch
}

func (c *fakeClock) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func TestWindowAllowsExactlyCapacity(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{1, 2, 5, 60} {
		clk := &fakeClock{now: time.Unix(1700000000, 0)}
		w := NewWindow(capacity, clk)

		for i := 0; i < capacity; i++ {
			require.True(t, w.TryAcquire(), "call %d of %d", i+1, capacity)
		}
		require.False(t, w.TryAcquire())

		clk.advance(WindowDuration - time.Millisecond)
		require.False(t, w.TryAcquire(), "window has not elapsed yet")
		require.Equal(t, capacity, snapshot(w).Count)
	}
}

func TestWindowResetsAfterDuration(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	w := NewWindow(2, clk)
	require.True(t, w.TryAcquire())
	require.True(t, w.TryAcquire())
	require.False(t, w.TryAcquire())

	clk.advance(WindowDuration)
	require.True(t, w.TryAcquire())

	s := snapshot(w)
	require.Equal(t, 1, s.Count, "count resets to zero, then takes one slot")
	require.Equal(t, clk.Now(), s.WindowStart)
}

func TestWindowDoesNotBankSkippedWindows(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	w := NewWindow(3, clk)

	clk.advance(10 * WindowDuration)
	for i := 0; i < 3; i++ {
		require.True(t, w.TryAcquire())
	}
	require.False(t, w.TryAcquire())
}

func TestWindowZeroCapacityPauses(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	w := NewWindow(0, clk)
	for i := 0; i < 5; i++ {
		require.False(t, w.TryAcquire())
		clk.advance(WindowDuration)
	}

	ok, err := w.Allow(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, snapshot(w).Count)
}

func TestWindowRefusalDoesNotMutateCount(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	w := NewWindow(1, clk)
	require.True(t, w.TryAcquire())
	before := snapshot(w)
	require.False(t, w.TryAcquire())
	require.Equal(t, before, snapshot(w))
}

func TestWindowConcurrentCallersNeverExceedCapacity(t *testing.T) {
	t.Parallel()

	const capacity = 50
	w := NewWindow(capacity, &fakeClock{now: time.Unix(1700000000, 0)})

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.TryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(capacity), granted.Load())
}
