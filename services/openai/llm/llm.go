package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"callpilot/core"
)

// OpenAILLMService runs chat completions against OpenAI.
type OpenAILLMService struct {
	client      *openai.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	isInitialized bool
	mu            sync.RWMutex
}

type Config struct {
	APIKey string `json:"api_key"`
	// BaseURL points the client at an OpenAI-compatible endpoint. Empty means
	// the OpenAI API itself.
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	// Timeout bounds a single generation. Zero means 30s.
	Timeout time.Duration `json:"timeout"`
}

func NewOpenAILLMService(config Config) *OpenAILLMService {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &OpenAILLMService{
		apiKey:      config.APIKey,
		baseURL:     config.BaseURL,
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		timeout:     config.Timeout,
	}
}

func (s *OpenAILLMService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.client = s.newClient()

	if _, err := s.client.ListModels(ctx); err != nil {
		return fmt.Errorf("failed to connect to OpenAI: %w", err)
	}

	s.isInitialized = true
	return nil
}

func (s *OpenAILLMService) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.client = nil
	s.isInitialized = false
	return nil
}

// Reset cancels any in-flight generation and makes the service ready for the
// next one.
func (s *OpenAILLMService) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.client = s.newClient()
	return nil
}

// newClient builds a client for the configured endpoint. Non-OpenAI providers
// speak the same protocol behind a different base URL.
func (s *OpenAILLMService) newClient() *openai.Client {
	if s.baseURL == "" {
		return openai.NewClient(s.apiKey)
	}
	clientConfig := openai.DefaultConfig(s.apiKey)
	clientConfig.BaseURL = s.baseURL
	return openai.NewClientWithConfig(clientConfig)
}

// RunCompletion streams a chat completion, emitting text deltas on outChan
// and assembled tool calls on toolInvocationChan. A timed-out call surfaces
// on the fatal channel so the handler can fail over.
func (s *OpenAILLMService) RunCompletion(
	llmContext core.LLMContext,
	outChan chan<- string,
	toolInvocationChan chan<- core.LLMToolCall,
	fatalServiceErrorChan chan<- error,
	completionStartChan chan<- struct{},
	completionEndChan chan<- struct{},
) {
	s.mu.RLock()
	if !s.isInitialized {
		s.mu.RUnlock()
		fatalServiceErrorChan <- fmt.Errorf("OpenAI service not initialized")
		return
	}
	client := s.client
	streamCtx := s.ctx
	s.mu.RUnlock()

	select {
	case completionStartChan <- struct{}{}:
	default:
	}
	defer func() {
		select {
		case completionEndChan <- struct{}{}:
		default:
		}
	}()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    convertMessages(llmContext.Messages),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Stream:      true,
	}
	if len(llmContext.Tools) > 0 {
		tools, err := convertTools(llmContext.Tools)
		if err != nil {
			fatalServiceErrorChan <- fmt.Errorf("failed to convert tools: %w", err)
			return
		}
		req.Tools = tools
	}

	ctx, cancel := context.WithTimeout(streamCtx, s.timeout)
	defer cancel()

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		fatalServiceErrorChan <- fmt.Errorf("%w: create completion stream: %v", core.ErrProviderUnavailable, err)
		return
	}
	defer stream.Close()

	toolCallBuilder := make(map[int]*openai.ToolCall)

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				fatalServiceErrorChan <- fmt.Errorf("%w: generation timed out", core.ErrProviderUnavailable)
			}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			return
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			select {
			case <-ctx.Done():
				return
			case outChan <- choice.Delta.Content:
			}
		}

		// OpenAI streams tool calls in fragments keyed by index.
		for _, toolCall := range choice.Delta.ToolCalls {
			if toolCall.Index == nil {
				continue
			}
			idx := *toolCall.Index
			if _, exists := toolCallBuilder[idx]; !exists {
				toolCallBuilder[idx] = &openai.ToolCall{
					Index:    toolCall.Index,
					ID:       toolCall.ID,
					Type:     toolCall.Type,
					Function: openai.FunctionCall{},
				}
			}
			if toolCall.Function.Name != "" {
				toolCallBuilder[idx].Function.Name = toolCall.Function.Name
			}
			if toolCall.Function.Arguments != "" {
				toolCallBuilder[idx].Function.Arguments += toolCall.Function.Arguments
			}
			if toolCall.ID != "" {
				toolCallBuilder[idx].ID = toolCall.ID
			}
		}

		if choice.FinishReason == "tool_calls" {
			for _, toolCall := range toolCallBuilder {
				if toolCall.Function.Name == "" {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case toolInvocationChan <- convertToolCall(*toolCall):
				}
			}
			toolCallBuilder = make(map[int]*openai.ToolCall)
		}
	}
}

func convertMessages(messages []core.LLMMessage) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Message,
		})
	}
	return converted
}

func convertTools(tools []core.LLMTool) ([]openai.Tool, error) {
	converted := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		properties := make(map[string]any)
		required := make([]string, 0)
		for _, param := range tool.Parameters {
			properties[param.Name] = map[string]any{
				"type":        string(param.Type),
				"description": param.Description,
			}
			if param.Required {
				required = append(required, param.Name)
			}
		}
		parameters := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			parameters["required"] = required
		}
		paramsJSON, err := sonic.Marshal(parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal parameters: %w", err)
		}
		converted = append(converted, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.ToolId,
				Description: tool.Description,
				Parameters:  paramsJSON,
			},
		})
	}
	return converted, nil
}

func convertRole(role core.LLMMessageRole) string {
	switch role {
	case core.LLMMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.LLMMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	case core.LLMMessageRoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func convertToolCall(toolCall openai.ToolCall) core.LLMToolCall {
	var parameters map[string]any
	if toolCall.Function.Arguments != "" {
		if err := sonic.Unmarshal([]byte(toolCall.Function.Arguments), &parameters); err != nil {
			parameters = map[string]any{"raw_arguments": toolCall.Function.Arguments}
		}
	}
	return core.LLMToolCall{
		ToolId:     toolCall.Function.Name,
		Parameters: parameters,
	}
}
