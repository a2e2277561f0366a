package factories

import (
	"errors"

	llmhandler "callpilot/handlers/llm"
	geminillm "callpilot/services/gemini/llm"
	openaillm "callpilot/services/openai/llm"
)

// LLMFactoryConfig holds provider-specific configs for LLM service
// construction. Set exactly one provider config; the rest should be left nil.
// The OpenAI-compatible providers reuse the OpenAI service with a custom base
// URL; Gemini has its own service.
type LLMFactoryConfig struct {
	OpenAIConfig   *openaillm.Config `json:"openai,omitempty"`
	GeminiConfig   *geminillm.Config `json:"gemini,omitempty"`
	GroqConfig     *openaillm.Config `json:"groq,omitempty"`
	TogetherConfig *openaillm.Config `json:"together,omitempty"`
	DeepSeekConfig *openaillm.Config `json:"deepseek,omitempty"`
}

// Default base URLs for OpenAI-compatible providers.
const (
	groqBaseURL     = "https://api.groq.com/openai/v1"
	togetherBaseURL = "https://api.together.xyz/v1"
	deepseekBaseURL = "https://api.deepseek.com/v1"
)

// BuildLLMService constructs an LLMService from the given factory config.
// Exactly one provider config must be non-nil.
func BuildLLMService(config LLMFactoryConfig) (llmhandler.LLMService, error) {
	if config.OpenAIConfig != nil {
		return openaillm.NewOpenAILLMService(*config.OpenAIConfig), nil
	}
	if config.GeminiConfig != nil {
		return geminillm.NewGeminiLLMService(*config.GeminiConfig), nil
	}
	if config.GroqConfig != nil {
		return buildOpenAICompatible(*config.GroqConfig, groqBaseURL, "llama-3.3-70b-versatile"), nil
	}
	if config.TogetherConfig != nil {
		return buildOpenAICompatible(*config.TogetherConfig, togetherBaseURL, "meta-llama/Llama-3.3-70B-Instruct-Turbo"), nil
	}
	if config.DeepSeekConfig != nil {
		return buildOpenAICompatible(*config.DeepSeekConfig, deepseekBaseURL, "deepseek-chat"), nil
	}
	return nil, errors.New("LLMFactoryConfig: no provider config specified")
}

// buildOpenAICompatible creates an OpenAI-compatible LLM service, applying
// default base URL and model if not explicitly set in the config.
func buildOpenAICompatible(cfg openaillm.Config, defaultBaseURL, defaultModel string) *openaillm.OpenAILLMService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return openaillm.NewOpenAILLMService(cfg)
}
