package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/config"
)

// New builds a ChatClient from provider configuration.
// Provider priority: Google, then Anthropic, then OpenAI-compatible, then
// Ollama. For purpose=planning a configured planning model overrides the
// provider's generation model.
func New(cfg *config.LLMConfig, purpose Purpose, logger *zap.Logger) (ChatClient, error) {
	modelFor := func(model string) string {
		if purpose == PurposePlanning && cfg.PlanningModel != "" {
			return cfg.PlanningModel
		}
		return model
	}

	switch {
	case cfg.Google.IsAvailable():
		return NewGoogleClient(cfg.Google.APIKey, modelFor(cfg.Google.Model), logger)
	case cfg.Anthropic.IsAvailable():
		return NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, modelFor(cfg.Anthropic.Model), logger), nil
	case cfg.OpenAI.IsAvailable():
		return NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, modelFor(cfg.OpenAI.Model), "openai", logger), nil
	case cfg.Ollama.IsAvailable():
		return NewOpenAIClient(cfg.Ollama.APIKey, cfg.Ollama.BaseURL, modelFor(cfg.Ollama.Model), "ollama", logger), nil
	}

	return nil, fmt.Errorf("no LLM provider configured")
}
