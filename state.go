package reactor

import (
	"sync/atomic"
)

// RunState represents the lifecycle state of a Reactor.
//
// State machine:
//
//	StateIdle     → StateStarting  [Run, Interleave]
//	StateCrashed  → StateStarting  [Run, Interleave]
//	StateStarting → StateRunning   [startup "during" phase]
//	StateStarting → StateStopping  [Stop]
//	StateRunning  → StateStopping  [Stop]
//	StateStopping → StateStopped   [shutdown complete, loop exit]
//	any running   → StateCrashed   [Crash, loop exit]
//	StateIdle     → StateStopped   [Close]
//
// StateStopped is terminal.
type RunState uint32

const (
	// StateIdle indicates the reactor has been created but never run.
	StateIdle RunState = iota
	// StateStarting indicates the "startup" event is being fired.
	StateStarting
	// StateRunning indicates the loop is processing events.
	StateRunning
	// StateStopping indicates "shutdown" has been requested but not completed.
	StateStopping
	// StateStopped indicates shutdown completed. The reactor cannot be reused.
	StateStopped
	// StateCrashed indicates the loop was abandoned via Crash.
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// active reports whether the loop owns the reactor in this state.
func (s RunState) active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// runState is a lock-free state cell. Transitions use CAS, terminal states
// use store.
type runState struct {
	v atomic.Uint32
}

func (s *runState) load() RunState {
	return RunState(s.v.Load())
}

func (s *runState) store(state RunState) {
	s.v.Store(uint32(state))
}

func (s *runState) tryTransition(from, to RunState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// transitionAny moves to the target from the first matching source state.
func (s *runState) transitionAny(validFrom []RunState, to RunState) (RunState, bool) {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint32(from), uint32(to)) {
			return from, true
		}
	}
	return s.load(), false
}
