package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/config"
)

func TestNewProviderPriority(t *testing.T) {
	logger := zap.NewNop()

	cfg := &config.LLMConfig{
		Anthropic: config.AnthropicConfig{APIKey: "sk-ant", Model: "claude-sonnet-4-5"},
		OpenAI:    config.OpenAIConfig{APIKey: "sk-oai", Model: "gpt-4o"},
		Ollama:    config.OllamaConfig{BaseURL: "http://localhost:11434/v1", Model: "qwen2.5-coder"},
	}

	client, err := New(cfg, PurposeGeneration, logger)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", client.Provider())

	cfg.Anthropic = config.AnthropicConfig{}
	client, err = New(cfg, PurposeGeneration, logger)
	require.NoError(t, err)
	assert.Equal(t, "openai", client.Provider())

	cfg.OpenAI = config.OpenAIConfig{}
	client, err = New(cfg, PurposeGeneration, logger)
	require.NoError(t, err)
	assert.Equal(t, "ollama", client.Provider())
}

func TestNewNoProvider(t *testing.T) {
	_, err := New(&config.LLMConfig{}, PurposeGeneration, zap.NewNop())
	assert.Error(t, err)
}

func TestNewPlanningModelOverride(t *testing.T) {
	cfg := &config.LLMConfig{
		OpenAI:        config.OpenAIConfig{APIKey: "sk", Model: "gpt-4o"},
		PlanningModel: "gpt-4o-mini",
	}

	gen, err := New(cfg, PurposeGeneration, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", gen.Model())

	plan, err := New(cfg, PurposePlanning, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", plan.Model())
}
