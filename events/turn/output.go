package turn

import "callpilot/core"

// TurnUtteranceStartedEvent fires when the turn detector opens a human
// utterance (enters Accumulating).
type TurnUtteranceStartedEvent struct {
	UtteranceID string
}

func (e *TurnUtteranceStartedEvent) GetId() string {
	return "turn.utterance_started"
}

// TurnUtteranceFinalizedEvent carries the immutable finalized utterance.
// Downstream, the LLM handler treats it as a generation request.
type TurnUtteranceFinalizedEvent struct {
	Utterance core.Utterance
}

func (e *TurnUtteranceFinalizedEvent) GetId() string {
	return "turn.utterance_finalized"
}
