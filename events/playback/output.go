package playback

import "time"

// PlaybackStartedEvent fires when the interruption controller starts gating
// audio for a response onto the output channel.
type PlaybackStartedEvent struct {
	HandleID   string
	ResponseID string
}

func (e *PlaybackStartedEvent) GetId() string {
	return "playback.started"
}

// PlaybackFinishedEvent fires when a response's audio fully played.
type PlaybackFinishedEvent struct {
	HandleID   string
	ResponseID string
	Played     time.Duration
}

func (e *PlaybackFinishedEvent) GetId() string {
	return "playback.finished"
}

// PlaybackCancelledEvent fires when an in-flight playback was cancelled by a
// confirmed barge-in. The associated TurnResponse is marked interrupted.
type PlaybackCancelledEvent struct {
	HandleID   string
	ResponseID string
	Played     time.Duration
	Unplayed   time.Duration
}

func (e *PlaybackCancelledEvent) GetId() string {
	return "playback.cancelled"
}
