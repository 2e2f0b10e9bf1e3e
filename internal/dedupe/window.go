// ABOUTME: Bounded TTL window that reports whether a key was seen recently
// ABOUTME: Entries are kept in refresh order so expiry sweeps stop at the first live entry

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Window remembers keys for a fixed TTL, evicting the least recently seen
// key once capacity is reached.
type Window struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front is the stalest entry
	ttl      time.Duration
	capacity int
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Window.
type Option func(*options)

type options struct {
	now   func() time.Time
	sweep time.Duration
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSweepInterval sets how often expired entries are purged in the
// background. Zero disables the background sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweep = d }
}

// New creates a Window. Capacity below one is treated as one.
func New(ttl time.Duration, capacity int, opts ...Option) *Window {
	o := options{now: time.Now, sweep: time.Minute}
	for _, opt := range opts {
		opt(&o)
	}
	if capacity < 1 {
		capacity = 1
	}

	w := &Window{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      o.now,
		stop:     make(chan struct{}),
	}
	if o.sweep > 0 {
		go w.sweepLoop(o.sweep)
	}
	return w
}

// Seen marks key and reports whether it was already present and unexpired.
// Check and mark happen under one lock.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if el, ok := w.entries[key]; ok {
		e := el.Value.(*entry)
		dup := now.Sub(e.seen) < w.ttl
		e.seen = now
		w.order.MoveToBack(el)
		return dup
	}

	for len(w.entries) >= w.capacity {
		w.removeLocked(w.order.Front())
	}
	w.entries[key] = w.order.PushBack(&entry{key: key, seen: now})
	return false
}

// Contains reports whether key is present and unexpired without marking it.
func (w *Window) Contains(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	el, ok := w.entries[key]
	if !ok {
		return false
	}
	return w.now().Sub(el.Value.(*entry).seen) < w.ttl
}

// Forget drops key so the next Seen reports it as new.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.entries[key]; ok {
		w.removeLocked(el)
	}
}

// Len returns the number of stored keys, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (w *Window) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Sub(el.Value.(*entry).seen) < w.ttl {
			break
		}
		w.removeLocked(el)
		removed++
	}
	return removed
}

// Close stops the background sweep. Safe to call more than once.
func (w *Window) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Window) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	w.order.Remove(el)
	delete(w.entries, el.Value.(*entry).key)
}

func (w *Window) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Sweep()
		case <-w.stop:
			return
		}
	}
}
