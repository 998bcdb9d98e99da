// Package anthropic provides Anthropic Claude client implementation for LLM interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/agent/llmerrors"
	"chatmemory/pkg/config"
)

// omittedHistoryNote opens a request whose visible history starts with an assistant turn.
const omittedHistoryNote = "[earlier conversation omitted]"

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient interface.
//
//nolint:govet // Simple client struct, logical grouping preferred
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClient creates a new Claude client wrapper (raw client, middleware applied at higher level).
func NewClaudeClient(apiKey string) llm.LLMClient {
	return NewClaudeClientWithModel(apiKey, config.ModelClaudeSonnetLatest)
}

// NewClaudeClientWithModel creates a new Claude client with specific model (raw client, middleware applied at higher level).
// Extra request options (base URL, HTTP client) are passed to the SDK.
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// ensureAlternation prepares messages for Anthropic API requirements.
// 1. Extracts system messages to top-level system parameter
// 2. Merges consecutive messages of the same role
// 3. Opens with a user turn when history starts with the assistant.
func ensureAlternation(messages []llm.CompletionMessage) (systemPrompt string, alternating []llm.CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		if n := len(alternating); n > 0 && alternating[n-1].Role == msg.Role {
			alternating[n-1].Content += "\n\n" + msg.Content
			continue
		}
		alternating = append(alternating, *msg)
	}
	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(alternating) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if alternating[0].Role != llm.RoleUser {
		alternating = append([]llm.CompletionMessage{llm.NewUserMessage(omittedHistoryNote)}, alternating...)
	}
	return systemPrompt, alternating, nil
}

func (c *ClaudeClient) buildParams(in *llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	systemPrompt, alternating, err := ensureAlternation(in.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, llmerrors.Validation("message alternation error: %v", err)
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	model := c.model
	if in.Model != "" {
		model = anthropic.Model(in.Model)
	}
	maxTokens := llm.DefaultMaxTokens
	if in.MaxTokens != nil {
		maxTokens = *in.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if in.Temperature != nil {
		params.Temperature = anthropic.Float(*in.Temperature)
	}
	if len(in.Stop) > 0 {
		params.StopSequences = in.Stop
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	return params, nil
}

// Stream implements the llm.LLMClient interface using the Messages streaming API.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *ClaudeClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := c.buildParams(&in)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
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

		var usage llm.Usage
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				usage.InputTokens = int(event.Message.Usage.InputTokens)
				usage.OutputTokens = int(event.Message.Usage.OutputTokens)
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					if !send(llm.StreamChunk{Content: event.Delta.Text}) {
						return
					}
				}
			case "message_delta":
				if event.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(event.Usage.OutputTokens)
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(llm.StreamChunk{Error: classifyError(err)})
			return
		}
		send(llm.StreamChunk{Done: true, Usage: &usage})
	}()

	return ch, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps Anthropic SDK errors to typed errors, keeping the HTTP status when the SDK
// reports one.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmerrors.NewAPIError(apiErr.StatusCode, err)
	}
	return llmerrors.Classify(err)
}
