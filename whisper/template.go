package whisper

import (
	"time"

	"callpilot/core"
)

// TemplateKind names the trigger condition a template evaluates.
type TemplateKind string

const (
	// KindGoal fires a reminder when its goal is still unsatisfied after the
	// configured delay. Stale reminders for already-completed goals are
	// dropped at fire time.
	KindGoal TemplateKind = "goal"
	// KindElapsed fires once the call has run for the configured duration.
	KindElapsed TemplateKind = "elapsed"
	// KindSentiment fires when the latest utterance sentiment drops to or
	// below the threshold.
	KindSentiment TemplateKind = "sentiment"
	// KindTransparency fires the AI-disclosure instruction shortly after the
	// call connects.
	KindTransparency TemplateKind = "transparency"
)

// Template is one resolved trigger condition with its rendered text and
// delivery mode. Templates are immutable for the session's lifetime.
type Template struct {
	ID        string               `json:"id"`
	Kind      TemplateKind         `json:"kind"`
	GoalID    string               `json:"goal_id,omitempty"`
	After     time.Duration        `json:"after,omitempty"`
	Threshold float64              `json:"threshold,omitempty"`
	Text      string               `json:"text"`
	Delivery  core.WhisperDelivery `json:"delivery"`
	// Repeatable templates may fire again once RelevanceWindow has passed
	// since the previous firing. Non-repeatable templates fire at most once
	// per session.
	Repeatable      bool          `json:"repeatable,omitempty"`
	RelevanceWindow time.Duration `json:"relevance_window,omitempty"`
}
