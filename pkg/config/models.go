package config

import (
	"fmt"
	"os"
	"strings"
)

// Model name constants.
const (
	ModelClaudeSonnet4      = "claude-sonnet-4-5"
	ModelClaudeSonnet4Old   = "claude-sonnet-4-20250514"
	ModelClaudeSonnet3      = "claude-3-7-sonnet-20250219"
	ModelClaudeSonnetLatest = ModelClaudeSonnet4
	ModelClaudeHaiku45      = "claude-haiku-4-5"
	ModelClaudeOpus45       = "claude-opus-4-5"
	ModelClaudeOpusLatest   = ModelClaudeOpus45

	ModelGPT4o        = "gpt-4o"
	ModelGPT4oMini    = "gpt-4o-mini"
	ModelGPT41        = "gpt-4.1"
	ModelGPT5         = "gpt-5"
	ModelOpenAIO3     = "o3"
	ModelOpenAIO4Mini = "o4-mini"

	ModelGemini20Flash = "gemini-2.0-flash"
	ModelGemini25Flash = "gemini-2.5-flash"
	ModelGemini3Pro    = "gemini-3-pro-preview"

	ModelLlama31 = "llama3.1"
)

// Provider constants.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables holding provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// DefaultOllamaHost is used when OLLAMA_HOST is unset.
const DefaultOllamaHost = "http://localhost:11434"

// ModelInfo contains static information about a known LLM model.
type ModelInfo struct {
	Provider         string  // API provider
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels registry contains pricing and limits for common models.
// Unknown models are inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	ModelClaudeSonnet4:    {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	ModelClaudeSonnet4Old: {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	ModelClaudeSonnet3:    {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	ModelClaudeHaiku45:    {Provider: ProviderAnthropic, InputCPM: 1.0, OutputCPM: 5.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	ModelClaudeOpus45:     {Provider: ProviderAnthropic, InputCPM: 15.0, OutputCPM: 75.0, MaxContextTokens: 200000, MaxOutputTokens: 16384},

	ModelGPT4o:        {Provider: ProviderOpenAI, InputCPM: 2.5, OutputCPM: 10.0, MaxContextTokens: 128000, MaxOutputTokens: 4096},
	ModelGPT4oMini:    {Provider: ProviderOpenAI, InputCPM: 0.15, OutputCPM: 0.6, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	ModelGPT41:        {Provider: ProviderOpenAI, InputCPM: 2.0, OutputCPM: 8.0, MaxContextTokens: 1047576, MaxOutputTokens: 32768},
	ModelGPT5:         {Provider: ProviderOpenAI, InputCPM: 20.0, OutputCPM: 60.0, MaxContextTokens: 128000, MaxOutputTokens: 4096},
	ModelOpenAIO3:     {Provider: ProviderOpenAI, InputCPM: 1.1, OutputCPM: 4.4, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	ModelOpenAIO4Mini: {Provider: ProviderOpenAI, InputCPM: 1.1, OutputCPM: 4.4, MaxContextTokens: 128000, MaxOutputTokens: 16384},

	ModelGemini20Flash: {Provider: ProviderGoogle, InputCPM: 0.10, OutputCPM: 0.40, MaxContextTokens: 1048576, MaxOutputTokens: 8192},
	ModelGemini25Flash: {Provider: ProviderGoogle, InputCPM: 0.30, OutputCPM: 2.50, MaxContextTokens: 1048576, MaxOutputTokens: 65536},
	ModelGemini3Pro:    {Provider: ProviderGoogle, InputCPM: 2.0, OutputCPM: 12.0, MaxContextTokens: 1048576, MaxOutputTokens: 65536},

	ModelLlama31: {Provider: ProviderOllama, MaxContextTokens: 128000, MaxOutputTokens: 4096},
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model names.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"gemma", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama}, // Explicit prefix like "ollama:phi4"
}

// IsValidProvider reports whether name is a supported provider.
func IsValidProvider(name string) bool {
	switch name {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
		return true
	default:
		return false
	}
}

// GetModelProvider returns the API provider for a given model.
// First checks KnownModels, then tries pattern matching.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match - cannot determine API provider", modelName)
}

// GetModelInfo returns the ModelInfo for a given model name. The boolean reports whether the model
// is in KnownModels; unknown models get conservative limits and an inferred provider.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}
	provider, _ := GetModelProvider(modelName)
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// StripProviderPrefix removes an explicit "ollama:" prefix from a model name.
func StripProviderPrefix(modelName string) string {
	return strings.TrimPrefix(modelName, "ollama:")
}

// CalculateCost calculates the cost in USD for a given model and token usage.
// Unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, exists := KnownModels[modelName]
	if !exists {
		return 0
	}
	inputCost := (float64(promptTokens) / 1_000_000.0) * info.InputCPM
	outputCost := (float64(completionTokens) / 1_000_000.0) * info.OutputCPM
	return inputCost + outputCost
}

// GetAPIKey returns the API key for a given provider.
// Checks decrypted secrets first, then environment variables.
// For Ollama, returns the host URL instead of an API key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = DefaultOllamaHost
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}
