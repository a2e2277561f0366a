package factories

import (
	"encoding/json"
	"fmt"

	"callpilot/core"
	llmhandler "callpilot/handlers/llm"
	playbackhandler "callpilot/handlers/playback"
	stthandler "callpilot/handlers/stt"
	transporthandler "callpilot/handlers/transport"
	ttshandler "callpilot/handlers/tts"
	turnhandler "callpilot/handlers/turn"
	vadhandler "callpilot/handlers/vad"
	"callpilot/whisper"
)

// AssistantSTTConfig bundles STT handler config with primary and optional
// fallback service factory configs.
type AssistantSTTConfig struct {
	HandlerConfig stthandler.STTConfig `json:"handler"`
	// ServiceConfig selects and configures the primary STT provider.
	ServiceConfig STTFactoryConfig `json:"service"`
	// FallbackServiceConfigs is an ordered list of fallback providers tried
	// when the primary fails.
	FallbackServiceConfigs []STTFactoryConfig `json:"fallbacks,omitempty"`
}

// BuildHandler constructs an STTHandler with primary and fallback services
// wired up.
func (c AssistantSTTConfig) BuildHandler(logger *core.Logger) (*stthandler.STTHandler, error) {
	primary, err := BuildSTTService(c.ServiceConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("stt primary service: %w", err)
	}
	handler := stthandler.NewSTTHandler(primary, c.HandlerConfig, logger)
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildSTTService(fbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("stt fallback[%d]: %w", i, err)
		}
		handler.WithBackupService(fb)
	}
	return handler, nil
}

// AssistantLLMConfig bundles LLM handler config with primary and optional
// fallback service factory configs.
type AssistantLLMConfig struct {
	HandlerConfig llmhandler.LLMHandlerConfig `json:"handler"`
	// ServiceConfig selects and configures the primary LLM provider.
	ServiceConfig LLMFactoryConfig `json:"service"`
	// FallbackServiceConfigs is an ordered list of fallback providers tried
	// when the primary fails.
	FallbackServiceConfigs []LLMFactoryConfig `json:"fallbacks,omitempty"`
	// Tools are exposed to the model on every generation.
	Tools []core.LLMTool `json:"tools,omitempty"`
}

// BuildHandler constructs an LLMHandler with primary, fallback and tool
// wiring.
func (c AssistantLLMConfig) BuildHandler(logger *core.Logger) (*llmhandler.LLMHandler, error) {
	primary, err := BuildLLMService(c.ServiceConfig)
	if err != nil {
		return nil, fmt.Errorf("llm primary service: %w", err)
	}
	handler := llmhandler.NewLLMHandler(primary, c.HandlerConfig, logger)
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildLLMService(fbCfg)
		if err != nil {
			return nil, fmt.Errorf("llm fallback[%d]: %w", i, err)
		}
		handler.WithBackupService(fb)
	}
	if len(c.Tools) > 0 {
		handler.WithTools(c.Tools)
	}
	return handler, nil
}

// AssistantTTSConfig bundles TTS handler config with primary and optional
// fallback service factory configs.
type AssistantTTSConfig struct {
	HandlerConfig ttshandler.TTSConfig `json:"handler"`
	// ServiceConfig selects and configures the primary TTS provider.
	ServiceConfig TTSFactoryConfig `json:"service"`
	// FallbackServiceConfigs is an ordered list of fallback providers tried
	// when the primary fails.
	FallbackServiceConfigs []TTSFactoryConfig `json:"fallbacks,omitempty"`
}

// BuildHandler constructs a TTSHandler with primary and fallback services
// wired up.
func (c AssistantTTSConfig) BuildHandler(logger *core.Logger) (*ttshandler.TTSHandler, error) {
	primary, err := BuildTTSService(c.ServiceConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("tts primary service: %w", err)
	}
	handler := ttshandler.NewTTSHandler(primary, c.HandlerConfig, logger)
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildTTSService(fbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("tts fallback[%d]: %w", i, err)
		}
		handler.WithBackupService(fb)
	}
	return handler, nil
}

// AssistantConfig is the complete per-assistant behaviour description: what
// the assistant says first, how it listens, which providers it runs on, the
// goals it pursues and the coaching templates that nudge it there. Loaded
// from JSON; secrets are injected afterwards via InjectAPIKeys.
type AssistantConfig struct {
	Name         string `json:"name"`
	FirstMessage string `json:"first_message,omitempty"`

	STT AssistantSTTConfig `json:"stt"`
	LLM AssistantLLMConfig `json:"llm"`
	TTS AssistantTTSConfig `json:"tts"`
	VAD VADFactoryConfig   `json:"vad"`

	// Turn holds the endpointing and interruption policy. Its
	// AllowInterruptions flag is propagated to the VAD handler so suspicion
	// and confirmation stay consistent.
	Turn     turnhandler.TurnConfig         `json:"turn"`
	Playback playbackhandler.PlaybackConfig `json:"playback"`

	Goals    []core.Goal        `json:"goals,omitempty"`
	Whispers []whisper.Template `json:"whispers,omitempty"`
}

// DefaultAssistantConfig returns an AssistantConfig pre-filled with handler
// defaults. Populate the ServiceConfig fields before building handlers.
func DefaultAssistantConfig() AssistantConfig {
	return AssistantConfig{
		STT:      AssistantSTTConfig{HandlerConfig: stthandler.DefaultConfig()},
		LLM:      AssistantLLMConfig{HandlerConfig: llmhandler.DefaultConfig()},
		TTS:      AssistantTTSConfig{HandlerConfig: ttshandler.DefaultConfig()},
		Turn:     turnhandler.DefaultConfig(),
		Playback: playbackhandler.DefaultConfig(),
	}
}

// AssistantConfigFromJSON parses a JSON blob into an AssistantConfig,
// starting from DefaultAssistantConfig so fields absent from the JSON keep
// their defaults.
func AssistantConfigFromJSON(data []byte) (AssistantConfig, error) {
	cfg := DefaultAssistantConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return AssistantConfig{}, fmt.Errorf("assistant config: %w", err)
	}
	return cfg, nil
}

// APIKeys holds API credentials for the supported providers. Injected after
// loading so secrets are never stored in config files.
type APIKeys struct {
	Deepgram   string
	OpenAI     string
	Gemini     string
	Groq       string
	Together   string
	DeepSeek   string
	ElevenLabs string
}

// InjectAPIKeys applies credentials to every configured provider, primary and
// fallback, that does not already carry one.
func (c *AssistantConfig) InjectAPIKeys(keys APIKeys) {
	injectSTTKeys(&c.STT.ServiceConfig, keys)
	for i := range c.STT.FallbackServiceConfigs {
		injectSTTKeys(&c.STT.FallbackServiceConfigs[i], keys)
	}

	injectLLMKeys(&c.LLM.ServiceConfig, keys)
	for i := range c.LLM.FallbackServiceConfigs {
		injectLLMKeys(&c.LLM.FallbackServiceConfigs[i], keys)
	}

	injectTTSKeys(&c.TTS.ServiceConfig, keys)
	for i := range c.TTS.FallbackServiceConfigs {
		injectTTSKeys(&c.TTS.FallbackServiceConfigs[i], keys)
	}
}

func injectSTTKeys(cfg *STTFactoryConfig, keys APIKeys) {
	if cfg.DeepgramConfig != nil && cfg.DeepgramConfig.APIKey == "" {
		cfg.DeepgramConfig.APIKey = keys.Deepgram
	}
}

func injectLLMKeys(cfg *LLMFactoryConfig, keys APIKeys) {
	if cfg.OpenAIConfig != nil && cfg.OpenAIConfig.APIKey == "" {
		cfg.OpenAIConfig.APIKey = keys.OpenAI
	}
	if cfg.GeminiConfig != nil && cfg.GeminiConfig.APIKey == "" {
		cfg.GeminiConfig.APIKey = keys.Gemini
	}
	if cfg.GroqConfig != nil && cfg.GroqConfig.APIKey == "" {
		cfg.GroqConfig.APIKey = keys.Groq
	}
	if cfg.TogetherConfig != nil && cfg.TogetherConfig.APIKey == "" {
		cfg.TogetherConfig.APIKey = keys.Together
	}
	if cfg.DeepSeekConfig != nil && cfg.DeepSeekConfig.APIKey == "" {
		cfg.DeepSeekConfig.APIKey = keys.DeepSeek
	}
}

func injectTTSKeys(cfg *TTSFactoryConfig, keys APIKeys) {
	if cfg.ElevenLabsConfig != nil && cfg.ElevenLabsConfig.APIKey == "" {
		cfg.ElevenLabsConfig.APIKey = keys.ElevenLabs
	}
}

// BuildPipeline constructs the full ordered handler chain for one call over
// the given transport. The caller passes the per-connection transport service
// and serializer; everything else comes from the assistant config.
//
// Pipeline order:
//
//	TransportInput → VAD → STT → Turn → LLM → TTS → Playback → TransportOutput
func (c AssistantConfig) BuildPipeline(
	transportService transporthandler.TransportService,
	transportConfig transporthandler.TransportConfig,
	logger *core.Logger,
) ([]core.IHandler, error) {
	vadService, err := BuildVADService(c.VAD, logger)
	if err != nil {
		return nil, fmt.Errorf("assistant: %w", err)
	}
	vadCfg := vadhandler.DefaultConfig()
	vadCfg.AllowInterruptions = c.Turn.AllowInterruptions

	sttHandler, err := c.STT.BuildHandler(logger)
	if err != nil {
		return nil, fmt.Errorf("assistant: %w", err)
	}
	llmHandler, err := c.LLM.BuildHandler(logger)
	if err != nil {
		return nil, fmt.Errorf("assistant: %w", err)
	}
	ttsHandler, err := c.TTS.BuildHandler(logger)
	if err != nil {
		return nil, fmt.Errorf("assistant: %w", err)
	}

	wrapper := transporthandler.NewTransportHandlerWrapper(transportService, transportConfig, logger)

	return []core.IHandler{
		wrapper.GetInputHandler(),
		vadhandler.NewVADHandler(vadService, vadCfg, logger),
		sttHandler,
		turnhandler.NewTurnHandler(c.Turn, logger),
		llmHandler,
		ttsHandler,
		playbackhandler.NewPlaybackHandler(c.Playback, logger),
		wrapper.GetOutputHandler(),
	}, nil
}
