package factories

import (
	"errors"

	"callpilot/core"
	ttshandler "callpilot/handlers/tts"
	elevenlabs "callpilot/services/elevenlabs/tts"
)

// TTSFactoryConfig holds provider-specific configs for TTS service
// construction. Set exactly one provider config; the rest should be left nil.
type TTSFactoryConfig struct {
	ElevenLabsConfig *elevenlabs.ElevenLabsTTSConfig `json:"elevenlabs,omitempty"`
}

// BuildTTSService constructs a TTSService from the given factory config.
// Exactly one provider config must be non-nil.
func BuildTTSService(config TTSFactoryConfig, logger *core.Logger) (ttshandler.TTSService, error) {
	if config.ElevenLabsConfig != nil {
		return elevenlabs.NewElevenLabsTTS(*config.ElevenLabsConfig, logger), nil
	}
	return nil, errors.New("TTSFactoryConfig: no provider config specified")
}
