// Package contextmgr decides which conversation messages reach the model on each turn.
//
// A Strategy consumes a snapshot of the message log and returns the bounded history that is sent
// verbatim. Strategies may contribute synthesized system context (digests, key facts) and may own
// persisted state, which they release in Clear. Feature-specific operations are exposed through
// capability interfaces (SummaryHolder, FactHolder, CompressedHolder, BranchManager) so the
// orchestrator never needs to know the concrete strategy type.
package contextmgr

import (
	"context"

	"chatmemory/pkg/chat"
)

// Strategy names, also used as config values.
const (
	KindSlidingWindow      = "sliding_window"
	KindPreserveSystem     = "preserve_system"
	KindSummaryCompression = "summary_compression"
	KindStickyFacts        = "sticky_facts"
	KindBranching          = "branching"
)

// Limits bounds the visible history. Zero means no limit.
type Limits struct {
	MaxTokens   int
	MaxMessages int
}

// Strategy is a pluggable truncation policy.
type Strategy interface {
	// Name returns the strategy kind.
	Name() string

	// Truncate returns the bounded history for messages. It may call collaborators
	// (summarizer, stores) and must not retain or mutate the input slice.
	Truncate(ctx context.Context, messages []chat.Message, limits Limits) ([]chat.Message, error)

	// AdditionalSystemMessages returns synthesized context injected before the visible history.
	AdditionalSystemMessages(ctx context.Context) []chat.Message

	// Clear releases strategy-owned state, including persisted state.
	Clear(ctx context.Context) error
}

// Base supplies the default optional hooks. Embed it in strategies that have no extra context
// and no owned state.
type Base struct{}

// AdditionalSystemMessages returns no extra context.
func (Base) AdditionalSystemMessages(context.Context) []chat.Message { return nil }

// Clear does nothing.
func (Base) Clear(context.Context) error { return nil }

// SummaryHolder is implemented by strategies that accumulate conversation summaries.
type SummaryHolder interface {
	Summaries(ctx context.Context) []ConversationSummary
	RestoreSummaries(ctx context.Context, summaries []ConversationSummary) error
}

// FactHolder is implemented by strategies that keep sticky facts.
type FactHolder interface {
	Facts(ctx context.Context) []Fact
	RefreshFacts(ctx context.Context, history []chat.Message) ([]Fact, error)
}

// CompressedHolder is implemented by strategies that keep evicted messages verbatim for display.
type CompressedHolder interface {
	CompressedMessages() []chat.Message
}

// BranchManager is implemented by strategies that checkpoint whole conversation states.
type BranchManager interface {
	EnsureInitialized(ctx context.Context) error
	CreateCheckpoint(ctx context.Context, history []chat.Message, summaries []ConversationSummary) (*DialogBranch, error)
	SwitchToBranch(ctx context.Context, id string, history []chat.Message, summaries []ConversationSummary) (*DialogBranch, error)
	Branches(ctx context.Context) ([]DialogBranch, error)
	ActiveBranchID(ctx context.Context) (string, error)
}

var (
	_ Strategy = (*SlidingWindow)(nil)
	_ Strategy = (*PreserveSystem)(nil)
	_ Strategy = (*SummaryCompression)(nil)
	_ Strategy = (*StickyFacts)(nil)
	_ Strategy = (*Branching)(nil)

	_ SummaryHolder    = (*SummaryCompression)(nil)
	_ FactHolder       = (*StickyFacts)(nil)
	_ CompressedHolder = (*StickyFacts)(nil)
	_ BranchManager    = (*Branching)(nil)
)
