package contextmgr

import (
	"context"
	"errors"
	"time"

	"chatmemory/pkg/chat"
)

// MaxBranches caps the number of dialog branches.
const MaxBranches = 5

// NoFactsSentinel is the extractor response meaning "there are no facts".
const NoFactsSentinel = "NO_FACTS"

var (
	// ErrBranchLimit is returned when a checkpoint would exceed MaxBranches.
	ErrBranchLimit = errors.New("branch limit reached")
	// ErrBranchNotFound is returned when switching to an unknown branch.
	ErrBranchNotFound = errors.New("branch not found")
)

// ConversationSummary is a digest standing in for a batch of evicted messages.
// DigestText is sent to the model; OriginalMessages are kept for display only.
type ConversationSummary struct {
	CreatedAt        time.Time
	DigestText       string
	OriginalMessages []chat.Message
}

// Fact is a durable key/value memory item.
type Fact struct {
	UpdatedAt time.Time
	Key       string
	Value     string
}

// DialogBranch is a named snapshot of a whole conversation state.
type DialogBranch struct {
	CreatedAt time.Time
	ID        string
	Name      string
	Messages  []chat.Message
	Summaries []ConversationSummary
}

// SummaryStore persists conversation summaries in creation order.
type SummaryStore interface {
	All(ctx context.Context) ([]ConversationSummary, error)
	Add(ctx context.Context, summary ConversationSummary) error
	ReplaceAll(ctx context.Context, summaries []ConversationSummary) error
	Clear(ctx context.Context) error
}

// FactStore persists the active fact set. ReplaceAll swaps the whole set.
type FactStore interface {
	All(ctx context.Context) ([]Fact, error)
	ReplaceAll(ctx context.Context, facts []Fact) error
	Clear(ctx context.Context) error
}

// BranchStore persists dialog branches and the active branch pointer.
type BranchStore interface {
	All(ctx context.Context) ([]DialogBranch, error)
	ActiveID(ctx context.Context) (string, error)
	Save(ctx context.Context, branch DialogBranch) error
	SetActive(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Summarizer compresses a batch of messages into digest text.
type Summarizer interface {
	Summarize(ctx context.Context, messages []chat.Message) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, messages []chat.Message) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, messages []chat.Message) (string, error) {
	return f(ctx, messages)
}

// FactExtractor asks a model to merge existing facts with the visible history. It returns the
// raw response, which is parsed with ParseFacts.
type FactExtractor interface {
	Extract(ctx context.Context, existing []Fact, history []chat.Message) (string, error)
}

// FactExtractorFunc adapts a function to FactExtractor.
type FactExtractorFunc func(ctx context.Context, existing []Fact, history []chat.Message) (string, error)

// Extract calls f.
func (f FactExtractorFunc) Extract(ctx context.Context, existing []Fact, history []chat.Message) (string, error) {
	return f(ctx, existing, history)
}

func cloneSummaries(in []ConversationSummary) []ConversationSummary {
	if in == nil {
		return nil
	}
	out := make([]ConversationSummary, len(in))
	for i := range in {
		out[i] = in[i]
		out[i].OriginalMessages = chat.Clone(in[i].OriginalMessages)
	}
	return out
}

func cloneBranch(b *DialogBranch) DialogBranch {
	return DialogBranch{
		CreatedAt: b.CreatedAt,
		ID:        b.ID,
		Name:      b.Name,
		Messages:  chat.Clone(b.Messages),
		Summaries: cloneSummaries(b.Summaries),
	}
}

func cloneFacts(in []Fact) []Fact {
	out := make([]Fact, len(in))
	copy(out, in)
	return out
}
