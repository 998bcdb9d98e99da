package agent

import (
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"

	"chatmemory/pkg/agent/internal/llmimpl/anthropic"
	"chatmemory/pkg/agent/internal/llmimpl/google"
	"chatmemory/pkg/agent/internal/llmimpl/ollama"
	"chatmemory/pkg/agent/internal/llmimpl/openaiofficial"
	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/agent/llmerrors"
	"chatmemory/pkg/agent/middleware/metrics"
	"chatmemory/pkg/agent/middleware/resilience/timeout"
	"chatmemory/pkg/config"
	"chatmemory/pkg/logx"
)

// LLMClientFactory creates LLM clients with properly configured middleware chains.
type LLMClientFactory struct {
	config   *config.Config
	recorder metrics.Recorder
	logger   *logx.Logger
}

// NewLLMClientFactory creates a new LLM client factory. A nil recorder disables usage recording.
func NewLLMClientFactory(cfg *config.Config, recorder metrics.Recorder) *LLMClientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &LLMClientFactory{
		config:   cfg,
		recorder: recorder,
		logger:   logx.NewLogger("llm"),
	}
}

// CreateClient creates the client for the configured model and provider.
func (f *LLMClientFactory) CreateClient() (llm.LLMClient, error) {
	return f.createClientWithMiddleware(f.config.Agent.Model, f.config.Provider.Name)
}

// CreateClientForModel creates a client for another model, e.g. a cheaper summarization model.
// The provider is inferred from the model name.
func (f *LLMClientFactory) CreateClientForModel(model string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, llmerrors.Configuration("failed to determine provider for model %s: %v", model, err)
	}
	return f.createClientWithMiddleware(model, provider)
}

// createClientWithMiddleware builds the raw provider client and wraps it:
// Metrics -> Timeout -> RawClient.
func (f *LLMClientFactory) createClientWithMiddleware(model, provider string) (llm.LLMClient, error) {
	rawClient, err := f.createRawClient(model, provider)
	if err != nil {
		return nil, err
	}

	return llm.Chain(rawClient,
		metrics.Middleware(f.recorder, nil, f.logger),
		timeout.Middleware(f.config.Provider.RequestTimeout),
	), nil
}

func (f *LLMClientFactory) createRawClient(model, provider string) (llm.LLMClient, error) {
	if provider == "" {
		inferred, err := config.GetModelProvider(model)
		if err != nil {
			return nil, llmerrors.Configuration("failed to determine provider for model %s: %v", model, err)
		}
		provider = inferred
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, llmerrors.Configuration("failed to get API key for provider %s: %v", provider, err)
	}
	baseURL := f.config.Provider.BaseURL

	switch provider {
	case config.ProviderAnthropic:
		var opts []anthropicopt.RequestOption
		if baseURL != "" {
			opts = append(opts, anthropicopt.WithBaseURL(baseURL))
		}
		return anthropic.NewClaudeClientWithModel(apiKey, model, opts...), nil
	case config.ProviderOpenAI:
		var opts []openaiopt.RequestOption
		if baseURL != "" {
			opts = append(opts, openaiopt.WithBaseURL(baseURL))
		}
		return openaiofficial.NewOfficialClientWithModel(apiKey, model, opts...), nil
	case config.ProviderGoogle:
		if baseURL != "" {
			return google.NewGeminiClientWithBaseURL(apiKey, model, baseURL), nil
		}
		return google.NewGeminiClientWithModel(apiKey, model), nil
	case config.ProviderOllama:
		host := apiKey
		if baseURL != "" {
			host = baseURL
		}
		return ollama.NewOllamaClientWithModel(host, config.StripProviderPrefix(model)), nil
	default:
		return nil, llmerrors.Configuration("unsupported provider: %s", provider)
	}
}
