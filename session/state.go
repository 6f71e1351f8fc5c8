package session

import "sync/atomic"

// State is the session lifecycle phase.
type State int32

const (
	// StateIdle waits for speech.
	StateIdle State = iota
	// StateListening buffers an utterance in progress.
	StateListening
	// StateResponding has a turn pipeline running.
	StateResponding
	// StateClosing is tearing the connection down.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateResponding:
		return "responding"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// state is written by the event loop and read from any goroutine.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) set(next State) { s.v.Store(int32(next)) }
func (s *stateVar) get() State     { return State(s.v.Load()) }
