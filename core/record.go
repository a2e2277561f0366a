package core

import "time"

// Speaker identifies which party produced an utterance.
type Speaker string

const (
	SpeakerHuman     Speaker = "human"
	SpeakerAssistant Speaker = "assistant"
)

// CompletionReason records how an utterance or response ended.
type CompletionReason string

const (
	ReasonSilenceTimeout CompletionReason = "silence-timeout"
	ReasonExplicitStop   CompletionReason = "explicit-stop"
	ReasonInterrupted    CompletionReason = "interrupted"
	ReasonCompleted      CompletionReason = "completed"
)

// Utterance is one bounded span of speech from either party. Immutable once
// finalized; the aggregator references it, never mutates it.
type Utterance struct {
	ID         string           `json:"id"`
	Speaker    Speaker          `json:"speaker"`
	Text       string           `json:"text"`
	Confidence float64          `json:"confidence"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at"`
	Reason     CompletionReason `json:"reason"`
}

// TurnResponse is one model-generated reply to a finalized human utterance.
type TurnResponse struct {
	ID          string           `json:"id"`
	UtteranceID string           `json:"utterance_id"` // The finalized human utterance this replies to.
	Text        string           `json:"text"`
	ToolCalls   []LLMToolCall    `json:"tool_calls,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	Latency     time.Duration    `json:"latency"`
	Reason      CompletionReason `json:"reason"`
}

// WhisperDelivery selects where a coaching suggestion is surfaced.
type WhisperDelivery string

const (
	DeliveryOperator WhisperDelivery = "operator"      // Surfaced to the operator UI only.
	DeliveryPrompt   WhisperDelivery = "prompt-inject" // Prepended to the next LLM prompt context.
)

// WhisperSuggestion is a coaching suggestion fired mid-call.
type WhisperSuggestion struct {
	ID        string          `json:"id"`
	TriggerID string          `json:"trigger_id"`
	Text      string          `json:"text"`
	Delivery  WhisperDelivery `json:"delivery"`
	FiredAt   time.Time       `json:"fired_at"`
}

// SentimentPoint is one entry in the per-call sentiment timeline.
type SentimentPoint struct {
	UtteranceID string    `json:"utterance_id"`
	At          time.Time `json:"at"`
	Score       float64   `json:"score"` // -1 (negative) .. +1 (positive)
}

// GoalProgress tracks a single configured goal. Completion is monotonic: a
// goal never un-completes within a session.
type GoalProgress struct {
	GoalID      string     `json:"goal_id"`
	Description string     `json:"description"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CallOutcome distinguishes terminal session states in the durable record.
type CallOutcome string

const (
	OutcomeCompleted CallOutcome = "completed"
	OutcomeFailed    CallOutcome = "failed"
)

// CallRecord is the durable post-call artifact. Created once at session
// termination; thereafter immutable and owned by the persistence layer.
type CallRecord struct {
	SessionID            string              `json:"session_id"`
	Participant          string              `json:"participant"`
	Outcome              CallOutcome         `json:"outcome"`
	StartedAt            time.Time           `json:"started_at"`
	EndedAt              time.Time           `json:"ended_at"`
	Duration             time.Duration       `json:"duration"`
	Transcript           []Utterance         `json:"transcript"`
	Responses            []TurnResponse      `json:"responses"`
	Sentiment            []SentimentPoint    `json:"sentiment"`
	Goals                []GoalProgress      `json:"goals"`
	Whispers             []WhisperSuggestion `json:"whispers"`
	WhisperEffectiveness float64             `json:"whisper_effectiveness"`
	RecordingRef         string              `json:"recording_ref,omitempty"`
}

// GoalCompletion returns the fraction of configured goals completed.
func (r *CallRecord) GoalCompletion() float64 {
	if len(r.Goals) == 0 {
		return 0
	}
	done := 0
	for _, g := range r.Goals {
		if g.CompletedAt != nil {
			done++
		}
	}
	return float64(done) / float64(len(r.Goals))
}
