package stt

import "callpilot/core"

// STTConfig controls handler-level speech-to-text behaviour.
type STTConfig struct {
	// RequiredSampleRate is what the STT engine expects, in Hz.
	RequiredSampleRate int `json:"required_sample_rate"`
	RequiredChannels   int `json:"required_channels"`
	// RequiredAudioFormat is the encoding the engine accepts.
	RequiredAudioFormat core.AudioEncodingFormat `json:"required_audio_format"`
	// MaxPendingFrames bounds the out-of-order reorder buffer. When a gap is
	// not filled within this many frames, buffered audio is flushed in
	// sequence order anyway; audio is never dropped.
	MaxPendingFrames int `json:"max_pending_frames"`
}

// DefaultConfig returns an STTConfig with sensible defaults.
func DefaultConfig() STTConfig {
	return STTConfig{
		RequiredSampleRate:  16000,
		RequiredChannels:    1,
		RequiredAudioFormat: core.PCM,
		MaxPendingFrames:    16,
	}
}
