package llm

import "time"

type LLMHandlerConfig struct {
	// SystemPrompt seeds the conversation context.
	SystemPrompt string `json:"system_prompt"`
	// GenerationTimeout bounds a single completion. Zero means the default.
	GenerationTimeout time.Duration `json:"generation_timeout"`
	// MaxHistoryMessages caps the context window; oldest non-system messages
	// are dropped first. Zero means unlimited.
	MaxHistoryMessages int `json:"max_history_messages"`
}

func DefaultConfig() LLMHandlerConfig {
	return LLMHandlerConfig{
		GenerationTimeout: 30 * time.Second,
	}
}
