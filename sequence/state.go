package sequence

import "sync/atomic"

// State is the state of a sequence.
type State int32

const (
	// StateNotYetConfigured is the initial state: no valid save directory yet.
	StateNotYetConfigured State = iota
	// StateNotYetStarted is a configured, idle sequence.
	StateNotYetStarted
	// StateActive is a running sequence with an armed schedule.
	StateActive
	// StatePaused is a running sequence whose schedule is disarmed.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateNotYetConfigured:
		return "NotYetConfigured"
	case StateNotYetStarted:
		return "NotYetStarted"
	case StateActive:
		return "Active"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// running reports whether the sequence has been started and not stopped yet.
func (s State) running() bool {
	return s == StateActive || s == StatePaused
}

// stateVar is the atomic state of a sequence. Transitions are compare-and-swap so that a
// transition only happens from the state it was decided on.
type stateVar struct {
	v atomic.Int32
}

func (sv *stateVar) load() State {
	return State(sv.v.Load())
}

func (sv *stateVar) store(s State) {
	sv.v.Store(int32(s))
}

func (sv *stateVar) transition(from, to State) bool {
	return sv.v.CompareAndSwap(int32(from), int32(to))
}
