package provider

import (
	"kull-server/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type bootstrapParams struct {
	fx.In

	Config   *config.Config
	Registry *Registry
}

// registerExecutors wires the cloud executors whose API keys are configured.
// Unconfigured providers keep their capability entry so clients can list them,
// but runs against them fail fast at lookup time.
func registerExecutors(p bootstrapParams) {
	oa := p.Config.Providers.OpenAI
	if oa.APIKey != "" {
		p.Registry.Register(OpenAIGPT5, NewOpenAIExecutor(oa.APIKey, oa.Model, oa.BaseURL, oa.Timeout))
	} else {
		zap.L().Info("openai executor not configured, skipping registration")
	}

	gm := p.Config.Providers.Gemini
	if gm.APIKey != "" {
		p.Registry.Register(Gemini25Flash, NewGeminiExecutor(gm.APIKey, gm.Model))
	} else {
		zap.L().Info("gemini executor not configured, skipping registration")
	}
}
