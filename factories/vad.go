package factories

import (
	"callpilot/core"
	vadhandler "callpilot/handlers/vad"
	"callpilot/vad/energy"
)

// VADFactoryConfig holds provider-specific configs for VAD service
// construction. When no provider is configured the energy detector is used
// with its defaults.
type VADFactoryConfig struct {
	EnergyConfig *energy.Config `json:"energy,omitempty"`
}

// BuildVADService constructs a VADService from the given factory config.
func BuildVADService(config VADFactoryConfig, logger *core.Logger) (vadhandler.VADService, error) {
	if config.EnergyConfig != nil {
		return energy.NewService(*config.EnergyConfig, logger), nil
	}
	return energy.NewService(energy.DefaultConfig(), logger), nil
}
