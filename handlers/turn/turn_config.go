package turn

import "time"

// TurnConfig controls utterance endpointing and barge-in confirmation.
type TurnConfig struct {
	// EndpointingDelay is how much trailing silence marks the end of a human
	// utterance.
	EndpointingDelay time.Duration `json:"endpointing_delay"`
	// MinWords is the minimum accumulated word count before an utterance may
	// finalize. Zero accepts any speech length.
	MinWords int `json:"min_words"`
	// AllowInterruptions enables barge-in. When false, speech during assistant
	// playback accumulates but does not finalize until playback ends.
	AllowInterruptions bool `json:"allow_interruptions"`
	// InterruptSpeechDuration is how long overlapping speech must last before
	// a suspected interruption is confirmed.
	InterruptSpeechDuration time.Duration `json:"interrupt_speech_duration"`
	// InterruptMinWords is the transcript word count required to confirm a
	// suspected interruption.
	InterruptMinWords int `json:"interrupt_min_words"`
	// FinalizeTimeout bounds the wait for the engine's final transcript. On
	// expiry the last interim transcript is used instead.
	FinalizeTimeout time.Duration `json:"finalize_timeout"`
}

// DefaultConfig returns a TurnConfig with sensible defaults.
func DefaultConfig() TurnConfig {
	return TurnConfig{
		EndpointingDelay:        500 * time.Millisecond,
		MinWords:                0,
		AllowInterruptions:      true,
		InterruptSpeechDuration: 200 * time.Millisecond,
		InterruptMinWords:       0,
		FinalizeTimeout:         2 * time.Second,
	}
}
