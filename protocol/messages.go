package protocol

import (
	"encoding/json"
	"time"

	"callpilot/core"
)

// MessageType enumerates the operator-bridge message types.
type MessageType string

const (
	// Server -> operator
	MsgState      MessageType = "state"
	MsgTranscript MessageType = "transcript"
	MsgResponse   MessageType = "response"
	MsgToolCall   MessageType = "tool_call"
	MsgPlayback   MessageType = "playback"
	MsgWhisper    MessageType = "whisper"
	MsgRecord     MessageType = "record"
	MsgError      MessageType = "error"

	// Operator -> server
	MsgInjectWhisper MessageType = "inject_whisper"
	MsgEndCall       MessageType = "end_call"
	MsgAck           MessageType = "ack"
)

// Envelope is the outer JSON wrapper for all bridge messages.
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// --- Server -> operator payloads ---

// StatePayload reports a session lifecycle transition.
type StatePayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// TranscriptPayload carries one finalized utterance.
type TranscriptPayload struct {
	Utterance core.Utterance `json:"utterance"`
}

// ResponsePayload carries one completed model response.
type ResponsePayload struct {
	Response core.TurnResponse `json:"response"`
}

// ToolCallPayload surfaces a tool invocation requested by the model.
type ToolCallPayload struct {
	ResponseID string           `json:"response_id"`
	Call       core.LLMToolCall `json:"call"`
}

// PlaybackPayload reports playback progress for a response. Status is
// "started", "finished" or "cancelled".
type PlaybackPayload struct {
	ResponseID string        `json:"response_id"`
	Status     string        `json:"status"`
	Played     time.Duration `json:"played,omitempty"`
	Unplayed   time.Duration `json:"unplayed,omitempty"`
}

// WhisperPayload carries a fired coaching suggestion.
type WhisperPayload struct {
	Suggestion core.WhisperSuggestion `json:"suggestion"`
}

// RecordPayload signals that the call record was sealed.
type RecordPayload struct {
	Outcome string `json:"outcome"`
}

// ErrorPayload reports a session-level error to the operator.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// --- Operator -> server payloads ---

// InjectWhisperPayload delivers an operator-authored coaching suggestion into
// the live call.
type InjectWhisperPayload struct {
	Text string `json:"text"`
	// Delivery is "operator" or "prompt-inject". Empty means prompt-inject.
	Delivery core.WhisperDelivery `json:"delivery,omitempty"`
}

// EndCallPayload requests a graceful hangup.
type EndCallPayload struct {
	Reason string `json:"reason,omitempty"`
}

// AckPayload acknowledges an operator command.
type AckPayload struct {
	AckedType MessageType `json:"acked_type"`
	OK        bool        `json:"ok"`
	Error     string      `json:"error,omitempty"`
}
