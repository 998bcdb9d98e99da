package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/agent/llmerrors"
	"chatmemory/pkg/logx"
)

// PromptLogMode defines when prompts should be logged.
type PromptLogMode string

const (
	// PromptLogOff disables prompt logging completely.
	PromptLogOff PromptLogMode = "off"
	// PromptLogOnFailure logs the outbound payload of every failed request.
	PromptLogOnFailure PromptLogMode = "on_failure"
)

// PromptLogConfig configures prompt logging behavior.
type PromptLogConfig struct {
	Mode     PromptLogMode // When to log prompts
	MaxChars int           // Maximum characters to log (truncate with hash if larger)
}

// DefaultPromptLogConfig logs failed prompts, truncated to 4000 characters.
//
//nolint:gochecknoglobals // Configuration struct - acceptable for package defaults
var DefaultPromptLogConfig = PromptLogConfig{
	Mode:     PromptLogOnFailure,
	MaxChars: 4000,
}

// PromptLogger handles conditional logging of prompts based on configuration.
type PromptLogger struct {
	logger *logx.Logger
	config PromptLogConfig
}

// NewPromptLogger creates a new prompt logger with the given configuration.
func NewPromptLogger(config PromptLogConfig, logger *logx.Logger) *PromptLogger {
	if logger == nil {
		logger = logx.NewLogger("prompt")
	}
	return &PromptLogger{
		config: config,
		logger: logger,
	}
}

// LogFailure logs a failed request with its sanitized prompt. Cancellations are not failures
// of the request and are logged at debug level only.
func (pl *PromptLogger) LogFailure(ctx context.Context, req *llm.CompletionRequest, err error, duration time.Duration) {
	if pl == nil || pl.config.Mode == PromptLogOff || err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		logx.Debug(ctx, "agent", "request to %s cancelled after %dms", req.Model, duration.Milliseconds())
		return
	}

	promptContent := extractPromptContent(req)
	sanitizedPrompt := llmerrors.SanitizePrompt(promptContent, pl.config.MaxChars)

	var statusCode int
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		statusCode = llmErr.StatusCode
	}

	pl.logger.Warn("LLM request failed - prompt logged for debugging: session=%s model=%s error_type=%s status_code=%d duration_ms=%d prompt_chars=%d approx_tokens=%d messages_count=%d error=%s prompt=%s",
		logx.SessionID(ctx),
		req.Model,
		llmerrors.TypeOf(err).String(),
		statusCode,
		duration.Milliseconds(),
		len(promptContent),
		len(promptContent)/4,
		len(req.Messages),
		err.Error(),
		sanitizedPrompt,
	)
}

// LogSuccess logs successful requests at debug level, without the prompt.
func (pl *PromptLogger) LogSuccess(ctx context.Context, req *llm.CompletionRequest, responseChars int, duration time.Duration) {
	if pl == nil {
		return
	}
	promptLength := 0
	for i := range req.Messages {
		promptLength += len(req.Messages[i].Content)
	}
	logx.Debug(ctx, "agent", "LLM request succeeded: model=%s duration_ms=%d prompt_chars=%d approx_tokens=%d response_chars=%d messages_count=%d",
		req.Model,
		duration.Milliseconds(),
		promptLength,
		promptLength/4,
		responseChars,
		len(req.Messages),
	)
}

// extractPromptContent renders the request messages as "[role]: content" blocks.
func extractPromptContent(req *llm.CompletionRequest) string {
	var b strings.Builder
	for i := range req.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[")
		b.WriteString(string(req.Messages[i].Role))
		b.WriteString("]: ")
		b.WriteString(req.Messages[i].Content)
	}
	return b.String()
}
