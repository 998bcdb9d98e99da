package mocks

import (
	"context"
	"strings"
	"sync"

	"chatmemory/pkg/agent/llm"
)

// MockLLMClient implements llm.LLMClient for testing.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockLLMClient struct {
	// StreamFunc is called when Stream is invoked. Override to customize behavior.
	StreamFunc func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error)

	// StreamCalls tracks all calls to Stream for verification.
	StreamCalls []llm.CompletionRequest

	// modelName is the model name returned by GetModelName.
	modelName string

	// mu protects call tracking slices
	mu sync.Mutex
}

// NewMockLLMClient creates a new mock LLM client that streams "Mock response".
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{
		modelName: "mock-model",
	}
	m.RespondWith("Mock response")
	return m
}

// Stream implements llm.LLMClient.
func (m *MockLLMClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.StreamCalls = append(m.StreamCalls, req)
	fn := m.StreamFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

// GetModelName implements llm.LLMClient.
func (m *MockLLMClient) GetModelName() string {
	return m.modelName
}

// --- Configuration methods ---

// SetModelName sets the model name returned by GetModelName.
func (m *MockLLMClient) SetModelName(name string) {
	m.modelName = name
}

// OnStream sets a custom handler for Stream calls.
func (m *MockLLMClient) OnStream(fn func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamFunc = fn
}

// --- Response helpers ---

// RespondWith streams content as a single chunk followed by a Done chunk with usage.
func (m *MockLLMClient) RespondWith(content string) {
	m.StreamContent(content, len(content)+1)
}

// RespondWithSequence streams a different response for each call, repeating the last one.
func (m *MockLLMClient) RespondWithSequence(responses ...string) {
	var mu sync.Mutex
	callIndex := 0
	m.OnStream(func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		mu.Lock()
		resp := responses[len(responses)-1]
		if callIndex < len(responses) {
			resp = responses[callIndex]
			callIndex++
		}
		mu.Unlock()
		return streamChunks(ctx, []string{resp}, nil), nil
	})
}

// StreamContent streams content in chunks of chunkSize bytes, then a Done chunk with usage.
func (m *MockLLMClient) StreamContent(content string, chunkSize int) {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	var parts []string
	for i := 0; i < len(content); i += chunkSize {
		end := i + chunkSize
		if end > len(content) {
			end = len(content)
		}
		parts = append(parts, content[i:end])
	}
	m.OnStream(func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		return streamChunks(ctx, parts, nil), nil
	})
}

// --- Error simulation helpers ---

// FailStreamWith configures Stream to return the specified error before streaming.
func (m *MockLLMClient) FailStreamWith(err error) {
	m.OnStream(func(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		return nil, err
	})
}

// StreamWithError streams content and then fails with err.
func (m *MockLLMClient) StreamWithError(content string, err error) {
	m.OnStream(func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		return streamChunks(ctx, []string{content}, err), nil
	})
}

// StreamThenBlock streams content and then waits until the request context ends, reporting
// ctx.Err() as the stream error. The started channel is closed once content was delivered.
func (m *MockLLMClient) StreamThenBlock(content string) (started <-chan struct{}) {
	ready := make(chan struct{})
	var once sync.Once
	m.OnStream(func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk)
		go func() {
			defer close(ch)
			if content != "" {
				select {
				case ch <- llm.StreamChunk{Content: content}:
				case <-ctx.Done():
				}
			}
			once.Do(func() { close(ready) })
			<-ctx.Done()
			select {
			case ch <- llm.StreamChunk{Error: ctx.Err()}:
			default:
			}
		}()
		return ch, nil
	})
	return ready
}

// --- Verification helpers ---

// Reset clears all recorded calls.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamCalls = nil
}

// GetStreamCallCount returns the number of times Stream was called.
func (m *MockLLMClient) GetStreamCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.StreamCalls)
}

// LastStreamCall returns the most recent Stream call request, or nil if none.
func (m *MockLLMClient) LastStreamCall() *llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.StreamCalls) == 0 {
		return nil
	}
	call := m.StreamCalls[len(m.StreamCalls)-1]
	return &call
}

// LastStreamCallMessages returns the messages from the most recent Stream call.
func (m *MockLLMClient) LastStreamCallMessages() []llm.CompletionMessage {
	if call := m.LastStreamCall(); call != nil {
		return call.Messages
	}
	return nil
}

// AssertStreamCalledWith reports whether any Stream call carried a message containing substr.
func (m *MockLLMClient) AssertStreamCalledWith(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.StreamCalls {
		for _, msg := range call.Messages {
			if strings.Contains(msg.Content, substr) {
				return true
			}
		}
	}
	return false
}

func streamChunks(ctx context.Context, parts []string, failWith error) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		total := 0
		for _, part := range parts {
			select {
			case ch <- llm.StreamChunk{Content: part}:
				total += len(part)
			case <-ctx.Done():
				return
			}
		}
		final := llm.StreamChunk{Done: true, Usage: &llm.Usage{InputTokens: 1, OutputTokens: total/4 + 1}}
		if failWith != nil {
			final = llm.StreamChunk{Error: failWith}
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()
	return ch
}
