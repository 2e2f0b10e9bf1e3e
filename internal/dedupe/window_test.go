// ABOUTME: Tests for the dedupe window
// ABOUTME: Uses a fake clock to check expiry, refresh, eviction and sweeping

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWindow(ttl time.Duration, capacity int) (*Window, *fakeClock) {
	clock := newFakeClock()
	return New(ttl, capacity, WithClock(clock.Now), WithSweepInterval(0)), clock
}

func TestWindowSeen(t *testing.T) {
	t.Run("first sighting is new", func(t *testing.T) {
		w, _ := newTestWindow(time.Minute, 10)
		assert.False(t, w.Seen("u1|g1|online"))
		assert.True(t, w.Contains("u1|g1|online"))
	})

	t.Run("repeat inside ttl is a duplicate", func(t *testing.T) {
		w, clock := newTestWindow(time.Minute, 10)
		w.Seen("k")
		clock.Advance(59 * time.Second)
		assert.True(t, w.Seen("k"))
	})

	t.Run("repeat after ttl is new again", func(t *testing.T) {
		w, clock := newTestWindow(time.Minute, 10)
		w.Seen("k")
		clock.Advance(time.Minute)
		assert.False(t, w.Seen("k"))
	})

	t.Run("a duplicate refreshes the entry", func(t *testing.T) {
		w, clock := newTestWindow(time.Minute, 10)
		w.Seen("k")
		clock.Advance(40 * time.Second)
		assert.True(t, w.Seen("k"))
		clock.Advance(40 * time.Second)
		assert.True(t, w.Contains("k"))
	})
}

func TestWindowCapacity(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 3)

	w.Seen("a")
	w.Seen("b")
	w.Seen("c")
	w.Seen("a") // a becomes the freshest
	w.Seen("d") // evicts b

	assert.Equal(t, 3, w.Len())
	assert.True(t, w.Contains("a"))
	assert.False(t, w.Contains("b"))
	assert.True(t, w.Contains("c"))
	assert.True(t, w.Contains("d"))
}

func TestWindowZeroCapacity(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 0)
	w.Seen("a")
	w.Seen("b")
	assert.Equal(t, 1, w.Len())
	assert.True(t, w.Contains("b"))
}

func TestWindowSweep(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 10)

	w.Seen("old-1")
	w.Seen("old-2")
	clock.Advance(30 * time.Second)
	w.Seen("fresh")
	clock.Advance(31 * time.Second)

	assert.Equal(t, 2, w.Sweep())
	assert.Equal(t, 1, w.Len())
	assert.True(t, w.Contains("fresh"))
	assert.Equal(t, 0, w.Sweep())
}

func TestWindowForget(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 10)
	w.Seen("k")
	w.Forget("k")
	w.Forget("missing")
	assert.False(t, w.Seen("k"))
}

func TestWindowBackgroundSweep(t *testing.T) {
	w := New(time.Millisecond, 10, WithSweepInterval(5*time.Millisecond))
	defer w.Close()

	w.Seen("k")
	assert.Eventually(t, func() bool { return w.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWindowClose(t *testing.T) {
	w := New(time.Minute, 10)
	w.Close()
	w.Close()
}

func TestWindowConcurrentSeen(t *testing.T) {
	w, _ := newTestWindow(time.Hour, 1000)

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if !w.Seen(fmt.Sprintf("key-%d", j)) {
					firsts.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), firsts.Load(), "each key must be new exactly once")
}
