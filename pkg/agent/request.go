package agent

import (
	"strings"
	"time"

	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/agent/llmerrors"
	"chatmemory/pkg/config"
)

// Request is one user turn. Unset optional fields fall back to the agent's AgentConfig.
type Request struct {
	Temperature  *float64
	MaxTokens    *int
	SystemPrompt *string
	Message      string
	Model        string
	Stop         []string
}

// Response is a fully collected answer.
type Response struct {
	Content  string
	Model    string
	Usage    llm.Usage
	Duration time.Duration
}

// EventType identifies a stream event.
type EventType int

const (
	// EventDelta carries a piece of answer text, in production order.
	EventDelta EventType = iota
	// EventComplete ends a successful stream and carries the usage statistics.
	EventComplete
	// EventError ends a failed stream.
	EventError
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventDelta:
		return "delta"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one element of a response stream. Exactly one terminal event (EventComplete or
// EventError) ends every stream.
type Event struct {
	Err      error
	Usage    *llm.Usage
	Delta    string
	Content  string // full answer text, set on EventComplete
	Model    string
	Type     EventType
	Duration time.Duration
}

// resolved is a request merged with config defaults.
type resolved struct {
	temperature  *float64
	maxTokens    *int
	message      string
	model        string
	systemPrompt string
	stop         []string
}

func resolve(req *Request, cfg *config.AgentConfig) resolved {
	r := resolved{
		message:      req.Message,
		model:        req.Model,
		temperature:  req.Temperature,
		maxTokens:    req.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
		stop:         req.Stop,
	}
	if r.model == "" {
		r.model = cfg.Model
	}
	if r.temperature == nil {
		r.temperature = cfg.Temperature
	}
	if r.maxTokens == nil {
		r.maxTokens = cfg.MaxTokens
	}
	if req.SystemPrompt != nil {
		r.systemPrompt = *req.SystemPrompt
	}
	if r.stop == nil {
		r.stop = cfg.StopSequences
	}
	return r
}

// validate fails fast, before any network call.
func (r *resolved) validate() error {
	if strings.TrimSpace(r.message) == "" {
		return llmerrors.Validation("message must not be blank")
	}
	if strings.TrimSpace(r.model) == "" {
		return llmerrors.Validation("model must not be blank")
	}
	if r.temperature != nil && !(*r.temperature >= config.MinTemperature && *r.temperature <= config.MaxTemperature) {
		return llmerrors.Validation("temperature %.2f out of range [%.1f, %.1f]", *r.temperature, config.MinTemperature, config.MaxTemperature)
	}
	if r.maxTokens != nil && *r.maxTokens <= 0 {
		return llmerrors.Validation("max tokens must be positive, got %d", *r.maxTokens)
	}
	return nil
}
