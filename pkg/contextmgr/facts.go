package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatmemory/pkg/chat"
	"chatmemory/pkg/logx"
)

// FactsHeader introduces the facts context message.
const FactsHeader = "Key facts about this conversation:"

// StickyFacts sends only the hot window verbatim and carries durable key/value facts as
// synthesized context. Messages leaving the window are kept verbatim for display.
type StickyFacts struct {
	extractor FactExtractor
	store     FactStore
	opts      options
	persist   persister

	keepRecent int

	mu         sync.Mutex
	loaded     bool
	facts      []Fact
	compressed []chat.Message
}

// NewStickyFacts creates a sticky-facts strategy. A nil store keeps facts in memory only.
func NewStickyFacts(keepRecent int, extractor FactExtractor, store FactStore, opts ...Option) *StickyFacts {
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecentCount
	}
	o := buildOptions("sticky-facts", opts)
	return &StickyFacts{
		extractor:  extractor,
		store:      store,
		opts:       o,
		persist:    persister{logger: o.logger},
		keepRecent: keepRecent,
	}
}

// Name implements Strategy.
func (s *StickyFacts) Name() string { return KindStickyFacts }

// KeepRecentCount returns the hot window size.
func (s *StickyFacts) KeepRecentCount() int { return s.keepRecent }

// Truncate returns the last KeepRecentCount messages, further trimmed by the token budget (and by
// MaxMessages when that is smaller). Everything dropped is appended to the compressed list.
func (s *StickyFacts) Truncate(ctx context.Context, messages []chat.Message, limits Limits) ([]chat.Message, error) {
	window := s.keepRecent
	if limits.MaxMessages > 0 && limits.MaxMessages < window {
		window = limits.MaxMessages
	}

	kept := takeLast(messages, window)
	if limits.MaxTokens > 0 {
		kept = trimToTokenBudget(kept, limits.MaxTokens, s.opts.estimator, true)
	}

	if evicted := len(messages) - len(kept); evicted > 0 {
		s.mu.Lock()
		s.compressed = append(s.compressed, chat.Clone(messages[:evicted])...)
		s.mu.Unlock()
		logx.Debug(ctx, "strategy", "sticky facts moved %d messages to the compressed list", evicted)
	}
	return kept, nil
}

// AdditionalSystemMessages renders all facts as one system message, one "key: value" per line.
func (s *StickyFacts) AdditionalSystemMessages(ctx context.Context) []chat.Message {
	facts := s.Facts(ctx)
	if len(facts) == 0 {
		return nil
	}
	return []chat.Message{chat.NewSystemMessage(FormatFacts(facts))}
}

// FormatFacts renders facts for the model.
func FormatFacts(facts []Fact) string {
	var b strings.Builder
	b.WriteString(FactsHeader)
	for i := range facts {
		fmt.Fprintf(&b, "\n%s: %s", facts[i].Key, facts[i].Value)
	}
	return b.String()
}

// Facts returns a copy of the current fact set.
func (s *StickyFacts) Facts(ctx context.Context) []Fact {
	s.ensureLoaded(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneFacts(s.facts)
}

// CompressedMessages returns the messages that left the hot window, oldest first.
func (s *StickyFacts) CompressedMessages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.Clone(s.compressed)
}

// RefreshFacts asks the extractor to merge the current facts with history and replaces the whole
// fact set with the parsed answer. Keeping, updating and dropping facts is decided by the
// extractor; no local merging happens here.
func (s *StickyFacts) RefreshFacts(ctx context.Context, history []chat.Message) ([]Fact, error) {
	if s.extractor == nil {
		return nil, fmt.Errorf("sticky facts: no fact extractor configured")
	}

	existing := s.Facts(ctx)
	response, err := s.extractor.Extract(ctx, existing, chat.Clone(history))
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	facts := ParseFacts(response, s.opts.now())

	s.mu.Lock()
	s.facts = facts
	s.loaded = true
	s.persist.handOff(ctx, &s.mu, "facts", func(ctx context.Context) error {
		if s.store == nil {
			return nil
		}
		return s.store.ReplaceAll(ctx, facts)
	})

	logx.Debug(ctx, "strategy", "facts refreshed: %d -> %d", len(existing), len(facts))
	return cloneFacts(facts), nil
}

// Clear drops facts and the compressed list.
func (s *StickyFacts) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.loaded = true
	s.facts = nil
	s.compressed = nil
	s.persist.handOff(ctx, &s.mu, "facts clear", func(ctx context.Context) error {
		if s.store == nil {
			return nil
		}
		return s.store.Clear(ctx)
	})
	return nil
}

func (s *StickyFacts) ensureLoaded(ctx context.Context) {
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
		s.opts.logger.Warn("loading facts failed, starting empty: %v", err)
		return
	}
	s.facts = cloneFacts(stored)
}

// ParseFacts parses newline-delimited "key: value" pairs. Leading bullets ("-", "*", "•", "1.")
// are ignored, lines without a key or value are skipped, and a later duplicate key replaces the
// earlier value. A response equal to NoFactsSentinel yields an empty set.
func ParseFacts(response string, now time.Time) []Fact {
	trimmed := strings.TrimSpace(response)
	facts := []Fact{}
	if trimmed == "" || strings.EqualFold(trimmed, NoFactsSentinel) {
		return facts
	}

	position := make(map[string]int)
	for _, line := range strings.Split(trimmed, "\n") {
		line = stripBullet(strings.TrimSpace(line))
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(strings.Trim(line[:idx], "*_`"))
		value := strings.TrimSpace(line[idx+1:])
		if key == "" || value == "" {
			continue
		}

		fact := Fact{Key: key, Value: value, UpdatedAt: now}
		if i, seen := position[key]; seen {
			facts[i] = fact
			continue
		}
		position[key] = len(facts)
		facts = append(facts, fact)
	}
	return facts
}

func stripBullet(line string) string {
	line = strings.TrimLeft(line, "-*•+ \t")

	// Numbered lists: "1. key: value" or "2) key: value".
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(line) && (line[digits] == '.' || line[digits] == ')') {
		return strings.TrimSpace(line[digits+1:])
	}
	return line
}
