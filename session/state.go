package session

// State is the session lifecycle position. Transitions are owned exclusively
// by the session driver goroutine.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateActive
	StateEnding
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// canTransition encodes the allowed edges. Failed is reachable from any
// non-terminal state.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	switch from {
	case StateCreated:
		return to == StateConnecting
	case StateConnecting:
		return to == StateActive
	case StateActive:
		return to == StateEnding
	case StateEnding:
		return to == StateCompleted
	}
	return false
}
