package dispatcher

import "sync/atomic"

// State is one of the four session lifecycle states spec.md §4.8 names.
type State int32

const (
	StatePendingAuth State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePendingAuth:
		return "pending_auth"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type sessionState struct {
	v atomic.Int32
}

func (s *sessionState) load() State {
	return State(s.v.Load())
}

func (s *sessionState) store(state State) {
	s.v.Store(int32(state))
}

// transition moves the state machine to next iff the current state is one
// of from. Returns false if the current state didn't match (a concurrent
// transition already happened), in which case the caller should not
// duplicate whatever side effect the transition guards.
func (s *sessionState) transition(next State, from ...State) bool {
	current := State(s.v.Load())
	for _, f := range from {
		if current == f {
			return s.v.CompareAndSwap(int32(f), int32(next))
		}
	}
	return false
}
