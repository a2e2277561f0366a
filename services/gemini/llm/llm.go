package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"callpilot/core"
)

// GeminiLLMService runs generations against the Gemini API. Typically wired
// as the fallback behind OpenAI.
type GeminiLLMService struct {
	client  *genai.Client
	apiKey  string
	model   string
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	isInitialized bool
	mu            sync.RWMutex
}

type Config struct {
	APIKey  string        `json:"api_key"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

func NewGeminiLLMService(config Config) *GeminiLLMService {
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &GeminiLLMService{
		apiKey:  config.APIKey,
		model:   config.Model,
		timeout: config.Timeout,
	}
}

func (s *GeminiLLMService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiKey == "" {
		return fmt.Errorf("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}
	s.client = client
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.isInitialized = true
	return nil
}

func (s *GeminiLLMService) Cleanup() error {
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

func (s *GeminiLLMService) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return nil
}

func (s *GeminiLLMService) RunCompletion(
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
		fatalServiceErrorChan <- fmt.Errorf("Gemini service not initialized")
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

	contents, config := convertContext(llmContext)

	ctx, cancel := context.WithTimeout(streamCtx, s.timeout)
	defer cancel()

	for result, err := range client.Models.GenerateContentStream(ctx, s.model, contents, config) {
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				fatalServiceErrorChan <- fmt.Errorf("%w: generation timed out", core.ErrProviderUnavailable)
			} else if streamCtx.Err() == nil {
				fatalServiceErrorChan <- fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
			}
			return
		}
		for _, candidate := range result.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					select {
					case <-ctx.Done():
						return
					case outChan <- part.Text:
					}
				}
				if part.FunctionCall != nil {
					select {
					case <-ctx.Done():
						return
					case toolInvocationChan <- core.LLMToolCall{
						ToolId:     part.FunctionCall.Name,
						Parameters: part.FunctionCall.Args,
					}:
					}
				}
			}
		}
	}
}

func convertContext(llmContext core.LLMContext) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}

	var systemText string
	var contents []*genai.Content
	for _, msg := range llmContext.Messages {
		switch msg.Role {
		case core.LLMMessageRoleSystem:
			if systemText != "" {
				systemText += "\n"
			}
			systemText += msg.Message
		case core.LLMMessageRoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Message, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Message, genai.RoleUser))
		}
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}

	if len(llmContext.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(llmContext.Tools))
		for _, tool := range llmContext.Tools {
			properties := make(map[string]*genai.Schema)
			var required []string
			for _, param := range tool.Parameters {
				properties[param.Name] = &genai.Schema{
					Type:        convertParameterType(param.Type),
					Description: param.Description,
				}
				if param.Required {
					required = append(required, param.Name)
				}
			}
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:        tool.ToolId,
				Description: tool.Description,
				Parameters: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: properties,
					Required:   required,
				},
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	return contents, config
}

func convertParameterType(paramType core.LLMParameterType) genai.Type {
	switch paramType {
	case core.LLMParameterTypeInteger:
		return genai.TypeInteger
	case core.LLMParameterTypeBoolean:
		return genai.TypeBoolean
	case core.LLMParameterTypeObject:
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
