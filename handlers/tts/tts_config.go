package tts

type TTSConfig struct {
	BreakWords    []string `json:"break_words"`     // Punctuation and linguistic markers that trigger early flushing of buffered text to the synthesizer.
	MinTextLength int      `json:"min_text_length"` // Minimum buffered length before a break word triggers a flush.
}

// DefaultConfig returns a TTSConfig with sensible defaults.
func DefaultConfig() TTSConfig {
	return TTSConfig{
		BreakWords:    []string{".", ",", "!", "?", ";", ":", "\n"},
		MinTextLength: 20,
	}
}
