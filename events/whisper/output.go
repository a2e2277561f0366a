package whisper

import "callpilot/core"

// WhisperFiredEvent surfaces a coaching suggestion to the event stream.
// Operator-delivered suggestions are forwarded to the UI bridge; prompt
// suggestions additionally produce a WhisperPromptEvent.
type WhisperFiredEvent struct {
	Suggestion core.WhisperSuggestion
}

func (e *WhisperFiredEvent) GetId() string {
	return "whisper.fired"
}

// WhisperPromptEvent injects a coaching instruction into the next LLM prompt
// context. Pushed to the pipeline top so the LLM handler observes it.
type WhisperPromptEvent struct {
	Text string
}

func (e *WhisperPromptEvent) GetId() string {
	return "whisper.prompt"
}
