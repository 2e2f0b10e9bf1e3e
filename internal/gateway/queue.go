// ABOUTME: Unbounded FIFO of outbound commands with a single consumer
// ABOUTME: Closing the queue is the cancellation signal for the writer and heartbeat

package gateway

import (
	"sync"

	"github.com/2389/fleet/internal/protocol"
)

// Queue is an unbounded, closable command queue. Any number of goroutines
// may Push; exactly one may call Next.
type Queue struct {
	mu     sync.Mutex
	items  []protocol.Command
	closed bool
	signal chan struct{} // buffered(1), closed on Close
}

// NewQueue returns an empty, open queue.
func NewQueue() *Queue {
	return &Queue{
		items:  make([]protocol.Command, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Push appends cmd. It fails with ErrQueueClosed once the queue is closed.
func (q *Queue) Push(cmd protocol.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, cmd)
	q.notifyLocked()
	return nil
}

// PushFront places cmd ahead of everything already queued. Only the
// handshake uses it.
func (q *Queue) PushFront(cmd protocol.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = cmd
	q.notifyLocked()
	return nil
}

// Next blocks until a command is available or the queue is closed. After
// Close it returns ErrQueueClosed even if commands were still pending.
func (q *Queue) Next() (protocol.Command, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return cmd, nil
		}
		q.mu.Unlock()

		<-q.signal
	}
}

// Close drops pending commands and wakes the consumer. Idempotent.
// It returns how many commands were dropped.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	dropped := len(q.items)
	q.items = nil
	close(q.signal)
	return dropped
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) notifyLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
