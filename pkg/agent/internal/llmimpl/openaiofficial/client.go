// Package openaiofficial provides OpenAI client implementation using the official OpenAI Go package.
package openaiofficial

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/agent/llmerrors"
	"chatmemory/pkg/config"
)

// OfficialClient wraps the official OpenAI Go client to implement llm.LLMClient interface.
//
//nolint:govet // Simple struct, field alignment not critical
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClient creates a new OpenAI client using the official Go package (raw client, middleware applied at higher level).
func NewOfficialClient(apiKey string) llm.LLMClient {
	return NewOfficialClientWithModel(apiKey, config.ModelGPT4o)
}

// NewOfficialClientWithModel creates a new OpenAI client with specific model using the official package.
// Extra request options (base URL, HTTP client) are passed to the SDK.
func NewOfficialClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OfficialClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (o *OfficialClient) buildParams(in *llm.CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	model := o.model
	if in.Model != "" {
		model = in.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if in.Temperature != nil {
		params.Temperature = openai.Float(*in.Temperature)
	}
	if in.MaxTokens != nil {
		maxTokens := *in.MaxTokens
		// Cap to the model's documented output limit to avoid a 400 from the API.
		if info, ok := config.KnownModels[model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
			maxTokens = info.MaxOutputTokens
		}
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if len(in.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: in.Stop}
	}
	return params
}

// Stream implements the llm.LLMClient interface using streaming chat completions.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (o *OfficialClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.buildParams(&in))
	ch := make(chan llm.StreamChunk)

	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		send := func(chunk llm.StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage *llm.Usage
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !send(llm.StreamChunk{Content: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				usage = &llm.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(llm.StreamChunk{Error: classifyError(err)})
			return
		}
		send(llm.StreamChunk{Done: true, Usage: usage})
	}()

	return ch, nil
}

// GetModelName returns the model name for this client.
func (o *OfficialClient) GetModelName() string {
	return o.model
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llmerrors.NewAPIError(apiErr.StatusCode, err)
	}
	return llmerrors.Classify(err)
}
