package session

import "testing"

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateCreated:    "created",
		StateConnecting: "connecting",
		StateActive:     "active",
		StateEnding:     "ending",
		StateCompleted:  "completed",
		StateFailed:     "failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateCreated, StateConnecting},
		{StateConnecting, StateActive},
		{StateActive, StateEnding},
		{StateEnding, StateCompleted},
		{StateCreated, StateFailed},
		{StateConnecting, StateFailed},
		{StateActive, StateFailed},
		{StateEnding, StateFailed},
	}
	for _, tc := range allowed {
		if !canTransition(tc.from, tc.to) {
			t.Errorf("canTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to State }{
		{StateCreated, StateActive},
		{StateCreated, StateCompleted},
		{StateConnecting, StateEnding},
		{StateActive, StateCompleted},
		{StateCompleted, StateActive},
		{StateCompleted, StateFailed},
		{StateFailed, StateConnecting},
		{StateFailed, StateFailed},
		{StateActive, StateConnecting},
	}
	for _, tc := range forbidden {
		if canTransition(tc.from, tc.to) {
			t.Errorf("canTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, state := range []State{StateCompleted, StateFailed} {
		if !state.Terminal() {
			t.Errorf("%s.Terminal() = false", state)
		}
	}
	for _, state := range []State{StateCreated, StateConnecting, StateActive, StateEnding} {
		if state.Terminal() {
			t.Errorf("%s.Terminal() = true", state)
		}
	}
}
