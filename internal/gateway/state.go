// ABOUTME: Connection phases and the atomic cell that stores them
// ABOUTME: Phases are written by the dispatcher and supervisor and read by anyone

package gateway

import "sync/atomic"

// Phase is a connection's position in its lifecycle.
type Phase int32

const (
	PhaseConnecting Phase = iota
	PhaseAwaitingHello
	PhaseIdentifying
	PhaseResuming
	PhaseEstablished
	PhaseReconnecting
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingHello:
		return "awaiting_hello"
	case PhaseIdentifying:
		return "identifying"
	case PhaseResuming:
		return "resuming"
	case PhaseEstablished:
		return "established"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further reads or writes can happen.
func (p Phase) Terminal() bool {
	return p == PhaseClosing || p == PhaseClosed
}

type phaseCell struct {
	v atomic.Int32
}

func (c *phaseCell) Load() Phase { return Phase(c.v.Load()) }

// Store sets p unless the cell already holds a terminal phase. Closed
// always wins.
func (c *phaseCell) Store(p Phase) bool {
	for {
		cur := Phase(c.v.Load())
		if cur == PhaseClosed || (cur == PhaseClosing && p != PhaseClosed) {
			return false
		}
		if c.v.CompareAndSwap(int32(cur), int32(p)) {
			return true
		}
	}
}
