// Package llm provides interfaces and types for Large Language Model client implementations.
package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the AI assistant.
	RoleAssistant CompletionRole = "assistant"
)

// DefaultMaxTokens is used by clients whose API requires an output limit when the request has none.
const DefaultMaxTokens = 4096

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
}

// CompletionRequest represents a request to generate a completion. Nil Temperature and MaxTokens
// leave the provider defaults in place.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionRequest struct {
	Messages    []CompletionMessage
	Stop        []string
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Usage reports token counts for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// CompletionResponse is a fully collected completion.
type CompletionResponse struct {
	Usage   *Usage
	Content string
}

// StreamChunk represents a chunk of streamed completion response. Content chunks arrive in order;
// the final chunk has Done set and may carry Usage. A chunk with Error ends the stream.
type StreamChunk struct {
	Error   error
	Usage   *Usage
	Content string
	Done    bool
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface { //nolint:revive // Keep name for backward compatibility
	// Stream generates a completion as a stream of chunks. The channel is closed after the final
	// chunk. Cancelling ctx aborts the stream.
	Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error)

	// GetModelName returns the model name for this LLM client.
	GetModelName() string
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleSystem,
		Content: content,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleUser,
		Content: content,
	}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleAssistant,
		Content: content,
	}
}

// Collect drains a stream into one response. It returns the first stream error, or ctx.Err() if
// the context ends before the stream does.
func Collect(ctx context.Context, client LLMClient, in CompletionRequest) (CompletionResponse, error) {
	stream, err := client.Stream(ctx, in)
	if err != nil {
		return CompletionResponse{}, err
	}

	var b strings.Builder
	var usage *Usage
	for {
		select {
		case <-ctx.Done():
			return CompletionResponse{Content: b.String()}, ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return CompletionResponse{Content: b.String(), Usage: usage}, nil
			}
			if chunk.Error != nil {
				return CompletionResponse{Content: b.String()}, chunk.Error
			}
			b.WriteString(chunk.Content)
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.Done {
				return CompletionResponse{Content: b.String(), Usage: usage}, nil
			}
		}
	}
}

// Validate checks the fields every provider needs.
func (r *CompletionRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	if r.Temperature != nil && (*r.Temperature < 0.0 || *r.Temperature > 2.0) {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	return nil
}

// StreamToReader converts a stream channel to an io.Reader.
func StreamToReader(stream <-chan StreamChunk) io.Reader {
	pr, pw := io.Pipe()

	go func() {
		defer func() {
			_ = pw.Close()
		}()
		for chunk := range stream {
			if chunk.Error != nil {
				pw.CloseWithError(chunk.Error)
				return
			}
			if _, err := pw.Write([]byte(chunk.Content)); err != nil {
				pw.CloseWithError(err)
				return
			}
			if chunk.Done {
				return
			}
		}
	}()

	return pr
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
