package llm

import "callpilot/core"

// LLMResponseStartedEvent fires as soon as a generation begins.
type LLMResponseStartedEvent struct {
	ResponseID  string
	UtteranceID string
}

func (e *LLMResponseStartedEvent) GetId() string {
	return "llm.response_started"
}

// LLMResponseChunkEvent carries one streamed chunk of response text.
type LLMResponseChunkEvent struct {
	ResponseID string
	Chunk      string
}

func (e *LLMResponseChunkEvent) GetId() string {
	return "llm.response_chunk"
}

// LLMResponseCompletedEvent carries the full TurnResponse once generation
// finishes.
type LLMResponseCompletedEvent struct {
	Response core.TurnResponse
}

func (e *LLMResponseCompletedEvent) GetId() string {
	return "llm.response_completed"
}

// LLMToolInvocationRequestedEvent surfaces a tool call requested by the model.
// Execution is the calling application's concern.
type LLMToolInvocationRequestedEvent struct {
	ResponseID string
	Call       core.LLMToolCall
}

func (e *LLMToolInvocationRequestedEvent) GetId() string {
	return "llm.tool_invocation_requested"
}
