package contextmgr

import (
	"context"

	"chatmemory/pkg/chat"
	"chatmemory/pkg/logx"
)

// DefaultWindowSize is used when a sliding window is created with a non-positive size.
const DefaultWindowSize = 20

// SlidingWindow keeps the most recent messages that fit the window and the token budget.
type SlidingWindow struct {
	Base
	windowSize int
	opts       options
}

// NewSlidingWindow creates a sliding-window strategy.
func NewSlidingWindow(windowSize int, opts ...Option) *SlidingWindow {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &SlidingWindow{
		windowSize: windowSize,
		opts:       buildOptions("sliding-window", opts),
	}
}

// Name implements Strategy.
func (s *SlidingWindow) Name() string { return KindSlidingWindow }

// WindowSize returns the configured window.
func (s *SlidingWindow) WindowSize() int { return s.windowSize }

// Truncate keeps a suffix of at most min(windowSize, MaxMessages) messages, then drops the
// oldest of those until the token budget fits. The newest message always survives.
func (s *SlidingWindow) Truncate(ctx context.Context, messages []chat.Message, limits Limits) ([]chat.Message, error) {
	count := s.windowSize
	if limits.MaxMessages > 0 && limits.MaxMessages < count {
		count = limits.MaxMessages
	}

	kept := takeLast(messages, count)
	if limits.MaxTokens > 0 {
		kept = trimToTokenBudget(kept, limits.MaxTokens, s.opts.estimator, true)
	}

	logx.Debug(ctx, "strategy", "sliding window kept %d of %d messages", len(kept), len(messages))
	return kept, nil
}
