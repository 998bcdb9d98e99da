package state

import (
	"context"
	"sync"

	"chatmemory/pkg/chat"
	"chatmemory/pkg/contextmgr"
)

// MemorySummaryStore keeps summaries in process memory.
type MemorySummaryStore struct {
	summaries []contextmgr.ConversationSummary
	mu        sync.Mutex
}

// NewMemorySummaryStore returns an empty store.
func NewMemorySummaryStore() *MemorySummaryStore {
	return &MemorySummaryStore{}
}

// All returns a copy of the summaries in creation order.
func (s *MemorySummaryStore) All(context.Context) ([]contextmgr.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSummaries(s.summaries), nil
}

// Add appends summary.
func (s *MemorySummaryStore) Add(_ context.Context, summary contextmgr.ConversationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary.OriginalMessages = chat.Clone(summary.OriginalMessages)
	s.summaries = append(s.summaries, summary)
	return nil
}

// ReplaceAll overwrites the stored summaries.
func (s *MemorySummaryStore) ReplaceAll(_ context.Context, summaries []contextmgr.ConversationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = cloneSummaries(summaries)
	return nil
}

// Clear drops all summaries.
func (s *MemorySummaryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = nil
	return nil
}

// MemoryFactStore keeps the fact set in process memory.
type MemoryFactStore struct {
	facts []contextmgr.Fact
	mu    sync.Mutex
}

// NewMemoryFactStore returns an empty store.
func NewMemoryFactStore() *MemoryFactStore {
	return &MemoryFactStore{}
}

// All returns a copy of the fact set.
func (s *MemoryFactStore) All(context.Context) ([]contextmgr.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]contextmgr.Fact(nil), s.facts...), nil
}

// ReplaceAll swaps the whole fact set.
func (s *MemoryFactStore) ReplaceAll(_ context.Context, facts []contextmgr.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append([]contextmgr.Fact(nil), facts...)
	return nil
}

// Clear drops all facts.
func (s *MemoryFactStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = nil
	return nil
}

// MemoryBranchStore keeps branches in process memory.
type MemoryBranchStore struct {
	active   string
	branches []contextmgr.DialogBranch
	mu       sync.Mutex
}

// NewMemoryBranchStore returns an empty store.
func NewMemoryBranchStore() *MemoryBranchStore {
	return &MemoryBranchStore{}
}

// All returns copies of the branches in creation order.
func (s *MemoryBranchStore) All(context.Context) ([]contextmgr.DialogBranch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contextmgr.DialogBranch, len(s.branches))
	for i := range s.branches {
		out[i] = cloneBranch(&s.branches[i])
	}
	return out, nil
}

// ActiveID returns the active branch id.
func (s *MemoryBranchStore) ActiveID(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

// Save inserts branch or replaces the branch with the same id in place.
func (s *MemoryBranchStore) Save(_ context.Context, branch contextmgr.DialogBranch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.branches {
		if s.branches[i].ID == branch.ID {
			s.branches[i] = cloneBranch(&branch)
			return nil
		}
	}
	s.branches = append(s.branches, cloneBranch(&branch))
	return nil
}

// SetActive records id as the active branch.
func (s *MemoryBranchStore) SetActive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
	return nil
}

// Clear drops all branches and the active pointer.
func (s *MemoryBranchStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches = nil
	s.active = ""
	return nil
}

func cloneSummaries(in []contextmgr.ConversationSummary) []contextmgr.ConversationSummary {
	if in == nil {
		return nil
	}
	out := make([]contextmgr.ConversationSummary, len(in))
	for i := range in {
		out[i] = in[i]
		out[i].OriginalMessages = chat.Clone(in[i].OriginalMessages)
	}
	return out
}

func cloneBranch(b *contextmgr.DialogBranch) contextmgr.DialogBranch {
	out := *b
	out.Messages = chat.Clone(b.Messages)
	out.Summaries = cloneSummaries(b.Summaries)
	return out
}

var (
	_ contextmgr.SummaryStore = (*MemorySummaryStore)(nil)
	_ contextmgr.FactStore    = (*MemoryFactStore)(nil)
	_ contextmgr.BranchStore  = (*MemoryBranchStore)(nil)
)
