package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmemory/pkg/agent/llmerrors"
	"chatmemory/pkg/config"
)

func factoryConfig(model, provider string) *config.Config {
	cfg := config.Default()
	cfg.Agent.Model = model
	cfg.Provider.Name = provider
	return &cfg
}

func TestCreateClientPerProvider(t *testing.T) {
	config.ClearDecryptedSecrets()
	t.Setenv(config.EnvAnthropicAPIKey, "test-anthropic")
	t.Setenv(config.EnvOpenAIAPIKey, "test-openai")
	t.Setenv(config.EnvGoogleAPIKey, "test-google")
	t.Setenv(config.EnvOllamaHost, "http://127.0.0.1:1")

	tests := []struct {
		name      string
		model     string
		provider  string
		wantModel string
	}{
		{"anthropic explicit", config.ModelClaudeSonnet4, config.ProviderAnthropic, config.ModelClaudeSonnet4},
		{"openai inferred", config.ModelGPT4o, "", config.ModelGPT4o},
		{"google inferred", config.ModelGemini25Flash, "", config.ModelGemini25Flash},
		{"ollama prefix stripped", "ollama:phi4", "", "phi4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := NewLLMClientFactory(factoryConfig(tt.model, tt.provider), nil)
			client, err := factory.CreateClient()
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, client.GetModelName())
		})
	}
}

func TestCreateClientWithBaseURL(t *testing.T) {
	config.ClearDecryptedSecrets()
	t.Setenv(config.EnvOpenAIAPIKey, "test-openai")

	cfg := factoryConfig(config.ModelGPT4oMini, config.ProviderOpenAI)
	cfg.Provider.BaseURL = "http://127.0.0.1:1/v1"
	client, err := NewLLMClientFactory(cfg, nil).CreateClient()
	require.NoError(t, err)
	assert.Equal(t, config.ModelGPT4oMini, client.GetModelName())
}

func TestCreateClientMissingKey(t *testing.T) {
	config.ClearDecryptedSecrets()
	t.Setenv(config.EnvAnthropicAPIKey, "")

	_, err := NewLLMClientFactory(factoryConfig(config.ModelClaudeHaiku45, ""), nil).CreateClient()
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeConfiguration))
	assert.Contains(t, err.Error(), config.EnvAnthropicAPIKey)
}

func TestCreateClientForModel(t *testing.T) {
	config.ClearDecryptedSecrets()
	t.Setenv(config.EnvAnthropicAPIKey, "test-anthropic")
	t.Setenv(config.EnvOpenAIAPIKey, "test-openai")

	factory := NewLLMClientFactory(factoryConfig(config.ModelClaudeSonnet4, config.ProviderAnthropic), nil)
	client, err := factory.CreateClientForModel(config.ModelGPT4oMini)
	require.NoError(t, err)
	assert.Equal(t, config.ModelGPT4oMini, client.GetModelName())

	_, err = factory.CreateClientForModel("mystery-model")
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeConfiguration))
}

func TestCreateClientUsesDecryptedSecrets(t *testing.T) {
	t.Setenv(config.EnvGoogleAPIKey, "")
	config.SetDecryptedSecrets(map[string]string{config.EnvGoogleAPIKey: "from-secrets-file"})
	t.Cleanup(config.ClearDecryptedSecrets)

	client, err := NewLLMClientFactory(factoryConfig(config.ModelGemini20Flash, ""), nil).CreateClient()
	require.NoError(t, err)
	assert.Equal(t, config.ModelGemini20Flash, client.GetModelName())
}
