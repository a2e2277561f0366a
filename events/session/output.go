package session

// StateChangedEvent reports a session lifecycle transition.
type StateChangedEvent struct {
	SessionID string
	From      string
	To        string
	Reason    string
}

func (e *StateChangedEvent) GetId() string {
	return "session.state_changed"
}

// RecordFinalizedEvent reports that the durable call record was built and
// handed to the persistence layer.
type RecordFinalizedEvent struct {
	SessionID string
	Outcome   string
}

func (e *RecordFinalizedEvent) GetId() string {
	return "session.record_finalized"
}
