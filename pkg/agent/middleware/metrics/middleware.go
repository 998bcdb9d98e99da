package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/agent/llmerrors"
	"chatmemory/pkg/logx"
	"chatmemory/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor estimates token usage when the provider did not report it.
type UsageExtractor func(req llm.CompletionRequest, content string) (promptTokens, completionTokens int)

// DefaultUsageExtractor counts tokens with tiktoken.
//
//nolint:gocritic // CompletionRequest passed by value matches UsageExtractor
func DefaultUsageExtractor(req llm.CompletionRequest, content string) (promptTokens, completionTokens int) {
	var prompt strings.Builder
	for i := range req.Messages {
		prompt.WriteString(req.Messages[i].Content)
		prompt.WriteString("\n")
	}
	return utils.CountTokensSimple(prompt.String()), utils.CountTokensSimple(content)
}

// Middleware returns a middleware that records latency, token usage and outcome for every stream.
// The observation is made when the stream ends, so duration covers the whole response. The
// session label comes from logx.SessionID(ctx).
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}
	if recorder == nil {
		recorder = Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				model := req.Model
				if model == "" {
					model = next.GetModelName()
				}
				sessionID := logx.SessionID(ctx)

				observe := func(prompt, completion int, err error) {
					duration := time.Since(start)
					recorder.ObserveRequest(model, sessionID, prompt, completion, err == nil, errorType(err), duration)
					if logger != nil {
						status := statusSuccess
						if err != nil {
							status = statusError
						}
						logger.Debug("LLM stream: model=%s session=%s tokens=%d+%d status=%s duration=%dms",
							model, sessionID, prompt, completion, status, duration.Milliseconds())
					}
				}

				in, err := next.Stream(ctx, req)
				if err != nil {
					observe(0, 0, err)
					return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					var content strings.Builder
					var usage *llm.Usage
					var streamErr error
					recorded := false
					finish := func() {
						if recorded {
							return
						}
						recorded = true
						if streamErr != nil {
							observe(0, 0, streamErr)
							return
						}
						if usage == nil {
							p, c := usageExtractor(req, content.String())
							usage = &llm.Usage{InputTokens: p, OutputTokens: c}
						}
						observe(usage.InputTokens, usage.OutputTokens, nil)
					}
					defer finish()

					for chunk := range in {
						content.WriteString(chunk.Content)
						if chunk.Usage != nil {
							usage = chunk.Usage
						}
						if chunk.Error != nil {
							streamErr = chunk.Error
						}
						// Recorded before the consumer sees the terminal chunk.
						if chunk.Done || chunk.Error != nil {
							finish()
						}
						select {
						case out <- chunk:
						case <-ctx.Done():
							if streamErr == nil {
								streamErr = ctx.Err()
							}
							return
						}
					}
				}()
				return out, nil
			},
			next.GetModelName,
		)
	}
}

// errorType classifies errors for metrics labeling.
func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	typ := llmerrors.TypeOf(err)
	return typ.String()
}
