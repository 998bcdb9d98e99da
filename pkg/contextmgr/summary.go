package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"chatmemory/pkg/chat"
	"chatmemory/pkg/logx"
)

// Summary compression defaults.
const (
	DefaultKeepRecentCount  = 10
	DefaultSummaryBlockSize = 10
)

// SummaryHeader introduces the digest context message.
const SummaryHeader = "Summary of the earlier part of this conversation:"

// SummaryCompression replaces batches of old messages with model-written digests. The digests
// are sent as one synthesized system message; the replaced originals are kept only for display.
type SummaryCompression struct {
	summarizer Summarizer
	store      SummaryStore
	opts       options
	persist    persister

	keepRecent int
	blockSize  int

	mu          sync.Mutex
	loaded      bool
	summaries   []ConversationSummary
	summarizing bool
	// generation increments on Clear and RestoreSummaries so a digest computed before either is
	// discarded.
	generation uint64
}

// NewSummaryCompression creates a summary-compression strategy. A nil store keeps summaries in
// memory only.
func NewSummaryCompression(keepRecent, blockSize int, summarizer Summarizer, store SummaryStore, opts ...Option) *SummaryCompression {
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecentCount
	}
	if blockSize <= 0 {
		blockSize = DefaultSummaryBlockSize
	}
	o := buildOptions("summary-compression", opts)
	return &SummaryCompression{
		summarizer: summarizer,
		store:      store,
		opts:       o,
		persist:    persister{logger: o.logger},
		keepRecent: keepRecent,
		blockSize:  blockSize,
	}
}

// Name implements Strategy.
func (s *SummaryCompression) Name() string { return KindSummaryCompression }

// KeepRecentCount returns the hot window size.
func (s *SummaryCompression) KeepRecentCount() int { return s.keepRecent }

// SummaryBlockSize returns the minimum batch compressed at once.
func (s *SummaryCompression) SummaryBlockSize() int { return s.blockSize }

// Truncate splits messages into the hot window and everything older. Once the older part holds
// at least SummaryBlockSize messages it is summarized into one ConversationSummary and only the
// hot window is returned. Otherwise ordinary count/token trimming applies to the whole set.
//
// Only one summarization runs at a time. A Truncate that arrives while another is waiting on the
// summarizer returns messages unchanged and leaves the block to the running call.
func (s *SummaryCompression) Truncate(ctx context.Context, messages []chat.Message, limits Limits) ([]chat.Message, error) {
	s.ensureLoaded(ctx)

	if len(messages) <= s.keepRecent {
		return applyLimits(messages, limits, s.opts.estimator), nil
	}

	split := len(messages) - s.keepRecent
	old, recent := messages[:split], messages[split:]
	if len(old) < s.blockSize || s.summarizer == nil {
		return applyLimits(messages, limits, s.opts.estimator), nil
	}

	s.mu.Lock()
	if s.summarizing {
		s.mu.Unlock()
		logx.Debug(ctx, "strategy", "summarization in progress, leaving %d messages as is", len(messages))
		return chat.Clone(messages), nil
	}
	s.summarizing = true
	generation := s.generation
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.summarizing = false
		s.mu.Unlock()
	}()

	digest, err := s.summarizer.Summarize(ctx, chat.Clone(old))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("summarize %d messages: %w", len(old), ctxErr)
		}
		s.opts.logger.Warn("summarizer failed, falling back to plain trimming: %v", err)
		return applyLimits(messages, limits, s.opts.estimator), nil
	}
	digest = strings.TrimSpace(digest)
	if digest == "" {
		s.opts.logger.Warn("summarizer returned an empty digest for %d messages, falling back to plain trimming", len(old))
		return applyLimits(messages, limits, s.opts.estimator), nil
	}

	summary := ConversationSummary{
		CreatedAt:        s.opts.now(),
		DigestText:       digest,
		OriginalMessages: chat.Clone(old),
	}

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		logx.Debug(ctx, "strategy", "summaries were reset during summarization, digest discarded")
		return chat.Clone(messages), nil
	}
	s.summaries = append(s.summaries, summary)
	total := len(s.summaries)
	s.persist.handOff(ctx, &s.mu, "summary", func(ctx context.Context) error {
		if s.store == nil {
			return nil
		}
		return s.store.Add(ctx, summary)
	})

	logx.Debug(ctx, "strategy", "compressed %d messages into summary #%d (%d chars)", len(old), total, len(digest))
	return applyLimits(recent, limits, s.opts.estimator), nil
}

// AdditionalSystemMessages returns all digests as a single system message, in creation order.
func (s *SummaryCompression) AdditionalSystemMessages(ctx context.Context) []chat.Message {
	summaries := s.Summaries(ctx)
	if len(summaries) == 0 {
		return nil
	}
	return []chat.Message{chat.NewSystemMessage(FormatDigests(summaries))}
}

// FormatDigests renders digests for the model. Parts are labelled when there is more than one.
func FormatDigests(summaries []ConversationSummary) string {
	var b strings.Builder
	b.WriteString(SummaryHeader)
	for i := range summaries {
		b.WriteString("\n\n")
		if len(summaries) > 1 {
			fmt.Fprintf(&b, "[Part %d]\n", i+1)
		}
		b.WriteString(summaries[i].DigestText)
	}
	return b.String()
}

// Summaries returns a copy of the accumulated summaries.
func (s *SummaryCompression) Summaries(ctx context.Context) []ConversationSummary {
	s.ensureLoaded(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSummaries(s.summaries)
}

// RestoreSummaries replaces the accumulated summaries, e.g. when a branch is switched in.
func (s *SummaryCompression) RestoreSummaries(ctx context.Context, summaries []ConversationSummary) error {
	restored := cloneSummaries(summaries)

	s.mu.Lock()
	s.loaded = true
	s.summaries = restored
	s.generation++
	s.persist.handOff(ctx, &s.mu, "summaries", func(ctx context.Context) error {
		if s.store == nil {
			return nil
		}
		return s.store.ReplaceAll(ctx, restored)
	})
	return nil
}

// Clear drops all summaries.
func (s *SummaryCompression) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.loaded = true
	s.summaries = nil
	s.generation++
	s.persist.handOff(ctx, &s.mu, "summary clear", func(ctx context.Context) error {
		if s.store == nil {
			return nil
		}
		return s.store.Clear(ctx)
	})
	return nil
}

// ensureLoaded reads persisted summaries once.
func (s *SummaryCompression) ensureLoaded(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return
	}
	s.loaded = true
	if s.store == nil {
		return
	}
	stored, err := s.store.All(ctx)
	if err != nil {
		s.opts.logger.Warn("loading summaries failed, starting empty: %v", err)
		return
	}
	s.summaries = append(cloneSummaries(stored), s.summaries...)
}
