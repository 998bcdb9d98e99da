package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/chat"
	"chatmemory/pkg/contextmgr"
)

// ErrEmptySummary is returned when the model produced no digest text.
var ErrEmptySummary = errors.New("summarization produced empty summary")

// SummarizationPrompt instructs the model to compress evicted messages.
const SummarizationPrompt = `You are compressing the older part of a conversation so it can be dropped from the context window.

Write a concise digest that preserves:
- Decisions made and conclusions reached
- Facts, names, numbers and constraints the user stated
- Open questions and what the user asked for next

Write in the third person ("The user asked...", "The assistant explained..."). Output only the digest.`

// FactExtractionPrompt instructs the model to maintain the sticky fact set.
const FactExtractionPrompt = `You maintain a short list of durable facts about this conversation: goals, preferences, names, decisions and constraints that should be remembered even after the messages are gone.

You receive the current facts and the recent conversation. Produce the complete new fact list:
- keep facts that are still true
- update facts that the conversation changed
- drop facts that are obsolete or were retracted
- add new durable facts

Output one fact per line as "key: value" with short lowercase keys. Output nothing else.
If there are no facts worth keeping, output exactly ` + contextmgr.NoFactsSentinel + `.`

// memoryMaxTokens bounds digest and fact responses.
const memoryMaxTokens = 1024

// LLMSummarizer implements contextmgr.Summarizer with a model call.
type LLMSummarizer struct {
	client llm.LLMClient
	model  string
}

// NewSummarizer returns a summarizer using client. An empty model uses the client's model.
func NewSummarizer(client llm.LLMClient, model string) *LLMSummarizer {
	return &LLMSummarizer{client: client, model: model}
}

// Summarize returns the digest of messages.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []chat.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}
	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(SummarizationPrompt),
			llm.NewUserMessage("Conversation to summarize:\n\n" + renderTranscript(messages)),
		},
		Model:       modelOr(s.model, s.client),
		Temperature: llm.Float64(0.2),
		MaxTokens:   llm.Int(memoryMaxTokens),
	}
	resp, err := llm.Collect(ctx, s.client, req)
	if err != nil {
		return "", fmt.Errorf("summarize %d messages: %w", len(messages), err)
	}
	digest := strings.TrimSpace(resp.Content)
	if digest == "" {
		return "", ErrEmptySummary
	}
	return digest, nil
}

// LLMFactExtractor implements contextmgr.FactExtractor with a model call. The merge of old and
// new facts happens inside the prompt; the raw response is returned for contextmgr.ParseFacts.
type LLMFactExtractor struct {
	client llm.LLMClient
	model  string
}

// NewFactExtractor returns a fact extractor using client. An empty model uses the client's model.
func NewFactExtractor(client llm.LLMClient, model string) *LLMFactExtractor {
	return &LLMFactExtractor{client: client, model: model}
}

// Extract asks the model for the complete updated fact list.
func (e *LLMFactExtractor) Extract(ctx context.Context, existing []contextmgr.Fact, history []chat.Message) (string, error) {
	var b strings.Builder
	b.WriteString("Current facts:\n")
	if len(existing) == 0 {
		b.WriteString("(none)\n")
	} else {
		for i := range existing {
			fmt.Fprintf(&b, "%s: %s\n", existing[i].Key, existing[i].Value)
		}
	}
	b.WriteString("\nRecent conversation:\n\n")
	if len(history) == 0 {
		b.WriteString("(empty)")
	} else {
		b.WriteString(renderTranscript(history))
	}

	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(FactExtractionPrompt),
			llm.NewUserMessage(b.String()),
		},
		Model:       modelOr(e.model, e.client),
		Temperature: llm.Float64(0),
		MaxTokens:   llm.Int(memoryMaxTokens),
	}
	resp, err := llm.Collect(ctx, e.client, req)
	if err != nil {
		return "", fmt.Errorf("extract facts: %w", err)
	}
	return resp.Content, nil
}

func renderTranscript(messages []chat.Message) string {
	var b strings.Builder
	for i := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(messages[i].Role))
		b.WriteString(": ")
		b.WriteString(messages[i].Content)
	}
	return b.String()
}

func modelOr(model string, client llm.LLMClient) string {
	if model != "" {
		return model
	}
	return client.GetModelName()
}

var (
	_ contextmgr.Summarizer    = (*LLMSummarizer)(nil)
	_ contextmgr.FactExtractor = (*LLMFactExtractor)(nil)
)
