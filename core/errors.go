package core

import "errors"

// Failure taxonomy for a live session. Only ErrProviderUnavailable (with no
// fallback left) and ErrConnectionTimeout move a session to Failed; everything
// else is recovered locally.
var (
	// ErrProviderUnavailable marks a failed or timed-out STT/LLM/TTS/VAD
	// provider call. The owning handler retries once against a backup service
	// before escalating.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrConnectionTimeout means no two-way audio exchange happened within the
	// connection-establishment deadline.
	ErrConnectionTimeout = errors.New("connection establishment timed out")

	// ErrInterruptionRace is returned when a cancellation targets playback that
	// already finished. Logged and swallowed, never surfaced to the caller.
	ErrInterruptionRace = errors.New("playback already completed")

	// ErrWhisperEvaluation marks a whisper trigger that failed to evaluate.
	// The individual suggestion is dropped.
	ErrWhisperEvaluation = errors.New("whisper trigger evaluation failed")

	// ErrPersistence marks a failed call-record write. The record is spooled
	// for later retry rather than discarded.
	ErrPersistence = errors.New("call record persistence failed")
)
