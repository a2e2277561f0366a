package core

// CriticalErrorEvent is emitted when a provider fails with no fallback left.
// The session driver treats it as session-fatal.
type CriticalErrorEvent struct {
	Reason string
}

func (e *CriticalErrorEvent) GetId() string {
	return "shared.critical_error"
}

// WarningEvent reports a recovered failure (e.g. a provider failover).
type WarningEvent struct {
	Reason string
}

func (e *WarningEvent) GetId() string {
	return "shared.warning"
}

// EndCallEvent is fired when either party terminates the session. The session
// driver handles it by stopping the pipeline gracefully.
type EndCallEvent struct {
	Reason string
}

func (e *EndCallEvent) GetId() string {
	return "shared.end_call"
}
