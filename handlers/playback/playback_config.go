package playback

import "time"

type PlaybackConfig struct {
	// ConfirmationTimeout is how long to wait for an interruption
	// confirmation after a suspicion before treating it as a false positive
	// and resuming cached audio.
	ConfirmationTimeout time.Duration `json:"confirmation_timeout"`
	// RollbackDuration is subtracted from the wall-clock speaking time when
	// estimating how much audio the listener actually heard, to account for
	// audio buffered in flight.
	RollbackDuration time.Duration `json:"rollback_duration"`
}

func DefaultConfig() PlaybackConfig {
	return PlaybackConfig{
		ConfirmationTimeout: 1500 * time.Millisecond,
		RollbackDuration:    1500 * time.Millisecond,
	}
}
