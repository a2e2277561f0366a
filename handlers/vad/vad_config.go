package vad

// VADConfig controls handler-level voice-activity behaviour.
type VADConfig struct {
	// AllowInterruptions enables barge-in: speech starting while the assistant
	// is speaking immediately suspends playback instead of waiting for
	// endpointing.
	AllowInterruptions bool `json:"allow_interruptions"`
}

// DefaultConfig returns a VADConfig with sensible defaults.
func DefaultConfig() VADConfig {
	return VADConfig{
		AllowInterruptions: true,
	}
}
