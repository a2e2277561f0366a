package vad

import "callpilot/core"

// VADSpeechStartedEvent fires when voice activity begins.
type VADSpeechStartedEvent struct{}

func (e *VADSpeechStartedEvent) GetId() string {
	return "vad.speech_started"
}

// VADSpeechEndedEvent fires when voice activity stops.
type VADSpeechEndedEvent struct{}

func (e *VADSpeechEndedEvent) GetId() string {
	return "vad.speech_ended"
}

// VADSpeechChunkEvent carries an audio frame classified as speech.
type VADSpeechChunkEvent struct {
	AudioChunk core.AudioChunk
}

func (e *VADSpeechChunkEvent) GetId() string {
	return "vad.speech_chunk"
}

// VADSilenceChunkEvent carries an audio frame classified as silence.
type VADSilenceChunkEvent struct {
	AudioChunk core.AudioChunk
}

func (e *VADSilenceChunkEvent) GetId() string {
	return "vad.silence_chunk"
}

// VADInterruptionSuspectedEvent fires when speech starts while the assistant
// is speaking. Playback is suspended pending confirmation.
type VADInterruptionSuspectedEvent struct{}

func (e *VADInterruptionSuspectedEvent) GetId() string {
	return "vad.interruption_suspected"
}

// VADInterruptionConfirmedEvent fires once the barge-in policy thresholds
// (speech duration, word count) are met. Playback is cancelled.
type VADInterruptionConfirmedEvent struct{}

func (e *VADInterruptionConfirmedEvent) GetId() string {
	return "vad.interruption_confirmed"
}
