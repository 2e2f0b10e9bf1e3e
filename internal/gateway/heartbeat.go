// ABOUTME: Heartbeat scheduler enqueuing liveness pings at the server's interval
// ABOUTME: Jitters the first tick and optionally detects unacknowledged heartbeats

package gateway

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/2389/fleet/internal/protocol"
)

// heartbeater ticks until its queue closes or done fires.
type heartbeater struct {
	queue    *Queue
	seq      *Sequence
	interval time.Duration
	done     <-chan struct{}

	// acked is nil when zombie detection is off.
	acked    *atomic.Bool
	onZombie func()

	jitter  func(time.Duration) time.Duration
	after   func(time.Duration) <-chan time.Time
	metrics *Metrics
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return rand.N(d)
}

func (h *heartbeater) run() {
	jitter, after := h.jitter, h.after
	if jitter == nil {
		jitter = defaultJitter
	}
	if after == nil {
		after = time.After
	}

	wait := jitter(h.interval)
	for {
		select {
		case <-h.done:
			return
		case <-after(wait):
		}
		wait = h.interval

		if h.acked != nil && !h.acked.Swap(false) {
			h.metrics.zombie()
			h.onZombie()
			return
		}
		if err := h.queue.Push(protocol.Heartbeat{LastSequence: h.seq.Last()}); err != nil {
			return
		}
		h.metrics.heartbeat()
	}
}
