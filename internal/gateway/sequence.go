// ABOUTME: Lock-free cell holding the last dispatch sequence seen on a connection
// ABOUTME: Shared by the dispatcher (writer) and the heartbeat (reader)

package gateway

import "sync/atomic"

const noSequence = -1

// Sequence holds the highest dispatch sequence observed. It never moves
// backwards except through Reset.
type Sequence struct {
	v atomic.Int64
}

// NewSequence returns a cell with no sequence observed.
func NewSequence() *Sequence {
	s := &Sequence{}
	s.v.Store(noSequence)
	return s
}

// Observe stores n unless it is lower than the current value. It returns
// false and the current value for a regression.
func (s *Sequence) Observe(n int64) (bool, int64) {
	for {
		cur := s.v.Load()
		if n < cur {
			return false, cur
		}
		if n == cur || s.v.CompareAndSwap(cur, n) {
			return true, n
		}
	}
}

// Load returns the last sequence and whether one has been observed.
func (s *Sequence) Load() (int64, bool) {
	n := s.v.Load()
	return n, n != noSequence
}

// Last returns the last sequence as a pointer, nil before the first one.
func (s *Sequence) Last() *int64 {
	n, ok := s.Load()
	if !ok {
		return nil
	}
	return &n
}

// Reset forgets the sequence, used when a session is invalidated.
func (s *Sequence) Reset() {
	s.v.Store(noSequence)
}
