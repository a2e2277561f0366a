package tts

import "callpilot/core"

// TTSOutputEvent carries one synthesized audio chunk.
type TTSOutputEvent struct {
	ResponseID string
	AudioChunk core.AudioChunk
}

func (e *TTSOutputEvent) GetId() string {
	return "tts.output"
}

// TTSSpeakingStartedEvent fires when synthesis for a response begins streaming.
type TTSSpeakingStartedEvent struct {
	ResponseID string
}

func (e *TTSSpeakingStartedEvent) GetId() string {
	return "tts.speaking_started"
}

// TTSSpeakingEndedEvent fires when the synthesizer has emitted the last chunk
// for the current response.
type TTSSpeakingEndedEvent struct {
	ResponseID string
}

func (e *TTSSpeakingEndedEvent) GetId() string {
	return "tts.speaking_ended"
}

// TTSSpeakEvent makes the TTS speak the given text immediately, bypassing the
// LLM chunk pipeline. Used for the configured first message.
type TTSSpeakEvent struct {
	Text string
}

func (e *TTSSpeakEvent) GetId() string {
	return "tts.speak"
}
