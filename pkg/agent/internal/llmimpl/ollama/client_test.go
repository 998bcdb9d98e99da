package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/agent/llmerrors"
)

func TestNewOllamaClientWithModel(t *testing.T) {
	client := NewOllamaClientWithModel("", "llama3")
	assert.Equal(t, "llama3", client.GetModelName())
	c, ok := client.(*Client)
	require.True(t, ok)
	assert.Equal(t, DefaultHost, c.hostURL)
}

func TestConvertMessagesToOllama(t *testing.T) {
	_, err := convertMessagesToOllama(nil)
	require.Error(t, err)

	_, err = convertMessagesToOllama([]llm.CompletionMessage{{Role: "tool", Content: "x"}})
	require.Error(t, err)

	msgs, err := convertMessagesToOllama([]llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("hi"),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestStreamDeliversDeltasAndUsage(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"model":"llama3","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"model":"llama3","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"model":"llama3","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":6,"eval_count":3}`+"\n")
	}))
	t.Cleanup(srv.Close)

	client := NewOllamaClientWithModel(srv.URL, "llama3")
	resp, err := llm.Collect(context.Background(), client, llm.CompletionRequest{
		Model:       "llama3",
		Temperature: llm.Float64(0.7),
		Messages:    []llm.CompletionMessage{llm.NewUserMessage("Hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 6, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)

	options, ok := body["options"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.7, options["temperature"], 1e-9)
}

func TestStreamClassifiesStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"missing\" not found"}`)
	}))
	t.Cleanup(srv.Close)

	client := NewOllamaClientWithModel(srv.URL, "missing")
	_, err := llm.Collect(context.Background(), client, llm.CompletionRequest{
		Model:    "missing",
		Messages: []llm.CompletionMessage{llm.NewUserMessage("Hi")},
	})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAPI))
}
