package model

import "fmt"

// State is the lifecycle state of a model session.
type State int

const (
	// StateIdle is the state before Open.
	StateIdle State = iota
	// StateConnecting covers the transport handshake and the greeting.
	StateConnecting
	// StateActive is when audio and tool acknowledgements flow.
	StateActive
	// StateClosing is set while Close releases the connection.
	StateClosing
	// StateClosed is the normal terminal state.
	StateClosed
	// StateFailed is the abnormal terminal state.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateClosed, StateFailed},
	StateConnecting: {StateActive, StateClosing, StateFailed},
	StateActive:     {StateClosing, StateFailed},
	StateClosing:    {StateClosed, StateFailed},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition describes a rejected state change.
type ErrIllegalTransition struct {
	From, To State
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal model session transition %s -> %s", e.From, e.To)
}
