package core

type LLMMessageRole string

const (
	LLMMessageRoleUser      LLMMessageRole = "user"
	LLMMessageRoleAssistant LLMMessageRole = "assistant"
	LLMMessageRoleSystem    LLMMessageRole = "system"
	LLMMessageRoleTool      LLMMessageRole = "tool"
)

// LLMMessage is one message in the conversation context handed to a language
// model provider.
type LLMMessage struct {
	Role    LLMMessageRole `json:"role"`
	Message string         `json:"message"`
}

type LLMParameterType string

const (
	LLMParameterTypeString  LLMParameterType = "string"
	LLMParameterTypeInteger LLMParameterType = "integer"
	LLMParameterTypeBoolean LLMParameterType = "boolean"
	LLMParameterTypeObject  LLMParameterType = "object"
)

// Parameter describes one parameter of an LLM tool.
type Parameter struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Required    bool             `json:"required"`
	Type        LLMParameterType `json:"type"`
}

// LLMTool is a tool the model may invoke. Tools come from the assistant
// configuration; execution is the calling application's concern.
type LLMTool struct {
	ToolId      string      `json:"tool_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// LLMToolCall is a tool invocation requested by the model.
type LLMToolCall struct {
	ToolId     string         `json:"tool_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// LLMContext is the full conversation state sent with a generation request.
type LLMContext struct {
	Messages []LLMMessage
	Tools    []LLMTool
}

func (c *LLMContext) AddSystemMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleSystem, Message: text})
}

func (c *LLMContext) AddUserMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleUser, Message: text})
}

func (c *LLMContext) AddAssistantMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleAssistant, Message: text})
}

// Clone returns a deep-enough copy for handing to a concurrent generation.
func (c *LLMContext) Clone() LLMContext {
	msgs := make([]LLMMessage, len(c.Messages))
	copy(msgs, c.Messages)
	tools := make([]LLMTool, len(c.Tools))
	copy(tools, c.Tools)
	return LLMContext{Messages: msgs, Tools: tools}
}
