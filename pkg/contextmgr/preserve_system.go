package contextmgr

import (
	"context"

	"chatmemory/pkg/chat"
	"chatmemory/pkg/logx"
)

// PreserveSystem trims conversation turns but never evicts system messages.
type PreserveSystem struct {
	Base
	opts options
}

// NewPreserveSystem creates a preserve-system strategy.
func NewPreserveSystem(opts ...Option) *PreserveSystem {
	return &PreserveSystem{opts: buildOptions("preserve-system", opts)}
}

// Name implements Strategy.
func (p *PreserveSystem) Name() string { return KindPreserveSystem }

type positioned struct {
	msg   chat.Message
	index int
}

// Truncate keeps every system message. The remaining message budget is MaxMessages minus the
// system count, and the token budget is MaxTokens minus the system tokens; non-system messages
// are kept newest first within both. Survivors keep their original relative order.
func (p *PreserveSystem) Truncate(ctx context.Context, messages []chat.Message, limits Limits) ([]chat.Message, error) {
	var system, rest []positioned
	systemTokens := 0
	for i := range messages {
		if messages[i].IsSystem() {
			system = append(system, positioned{msg: messages[i], index: i})
			systemTokens += p.opts.estimator.EstimateTokens(messages[i])
			continue
		}
		rest = append(rest, positioned{msg: messages[i], index: i})
	}

	if limits.MaxMessages > 0 {
		budget := limits.MaxMessages - len(system)
		if budget < 0 {
			budget = 0
		}
		if len(rest) > budget {
			rest = rest[len(rest)-budget:]
		}
	}

	if limits.MaxTokens > 0 {
		available := limits.MaxTokens - systemTokens
		used := 0
		start := len(rest)
		for i := len(rest) - 1; i >= 0; i-- {
			cost := p.opts.estimator.EstimateTokens(rest[i].msg)
			if used+cost > available {
				break
			}
			used += cost
			start = i
		}
		rest = rest[start:]
	}

	out := make([]chat.Message, 0, len(system)+len(rest))
	si, ri := 0, 0
	for si < len(system) || ri < len(rest) {
		if ri >= len(rest) || (si < len(system) && system[si].index < rest[ri].index) {
			out = append(out, system[si].msg)
			si++
			continue
		}
		out = append(out, rest[ri].msg)
		ri++
	}

	logx.Debug(ctx, "strategy", "preserve-system kept %d system + %d other of %d", len(system), len(rest), len(messages))
	return out, nil
}
