package contextmgr

import (
	"context"
	"fmt"
	"sync"

	"chatmemory/pkg/chat"
	"chatmemory/pkg/logx"
)

// Branching keeps up to MaxBranches named checkpoints of the whole conversation. Its Truncate is a
// plain count/token limiter; branch data only changes through the BranchManager methods, which the
// orchestrator drives because it owns the message log that a switch replaces.
type Branching struct {
	Base
	store   BranchStore
	opts    options
	persist persister

	mu       sync.Mutex
	loaded   bool
	branches []DialogBranch
	activeID string
}

// NewBranching creates a branching strategy. A nil store keeps branches in memory only.
func NewBranching(store BranchStore, opts ...Option) *Branching {
	o := buildOptions("branching", opts)
	return &Branching{
		store:   store,
		opts:    o,
		persist: persister{logger: o.logger},
	}
}

// Name implements Strategy.
func (b *Branching) Name() string { return KindBranching }

// Truncate applies the count and token limits only.
func (b *Branching) Truncate(_ context.Context, messages []chat.Message, limits Limits) ([]chat.Message, error) {
	return applyLimits(messages, limits, b.opts.estimator), nil
}

// EnsureInitialized creates and activates "Branch 1" with an empty history when no branch exists.
func (b *Branching) EnsureInitialized(ctx context.Context) error {
	b.mu.Lock()
	b.loadLocked(ctx)
	if len(b.branches) > 0 {
		b.mu.Unlock()
		return nil
	}

	first := b.newBranchLocked(nil, nil)
	b.branches = append(b.branches, first)
	b.activeID = first.ID
	b.persist.handOff(ctx, &b.mu, "initial branch", b.saveOp(first), b.activateOp(first.ID))

	logx.Debug(ctx, "branch", "initialized %s (%s)", first.Name, first.ID)
	return nil
}

// CreateCheckpoint saves history and summaries into the active branch, then creates and activates
// a new branch starting from that same state. At the cap it returns ErrBranchLimit and changes
// nothing.
func (b *Branching) CreateCheckpoint(ctx context.Context, history []chat.Message, summaries []ConversationSummary) (*DialogBranch, error) {
	b.mu.Lock()
	b.loadLocked(ctx)
	if len(b.branches) >= MaxBranches {
		b.mu.Unlock()
		return nil, fmt.Errorf("checkpoint: %w (max %d)", ErrBranchLimit, MaxBranches)
	}

	var ops []func(context.Context) error
	if active := b.activeLocked(); active != nil {
		active.Messages = chat.Clone(history)
		active.Summaries = cloneSummaries(summaries)
		ops = append(ops, b.saveOp(cloneBranch(active)))
	}

	created := b.newBranchLocked(history, summaries)
	b.branches = append(b.branches, created)
	b.activeID = created.ID
	ops = append(ops, b.saveOp(created), b.activateOp(created.ID))

	result := cloneBranch(&created)
	b.persist.handOff(ctx, &b.mu, "checkpoint", ops...)

	logx.Debug(ctx, "branch", "checkpoint %s (%s) with %d messages", result.Name, result.ID, len(result.Messages))
	return &result, nil
}

// SwitchToBranch saves history and summaries into the active branch, activates id and returns the
// state stored for it.
func (b *Branching) SwitchToBranch(ctx context.Context, id string, history []chat.Message, summaries []ConversationSummary) (*DialogBranch, error) {
	b.mu.Lock()
	b.loadLocked(ctx)
	if b.findLocked(id) == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("switch to %q: %w", id, ErrBranchNotFound)
	}

	var ops []func(context.Context) error
	if active := b.activeLocked(); active != nil {
		active.Messages = chat.Clone(history)
		active.Summaries = cloneSummaries(summaries)
		ops = append(ops, b.saveOp(cloneBranch(active)))
	}

	b.activeID = id
	ops = append(ops, b.activateOp(id))
	result := cloneBranch(b.findLocked(id))
	b.persist.handOff(ctx, &b.mu, "branch switch", ops...)

	logx.Debug(ctx, "branch", "switched to %s (%s)", result.Name, result.ID)
	return &result, nil
}

// Branches returns copies of all branches in creation order.
func (b *Branching) Branches(ctx context.Context) ([]DialogBranch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadLocked(ctx)

	out := make([]DialogBranch, len(b.branches))
	for i := range b.branches {
		out[i] = cloneBranch(&b.branches[i])
	}
	return out, nil
}

// ActiveBranchID returns the active branch id, or "" before initialization.
func (b *Branching) ActiveBranchID(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadLocked(ctx)
	return b.activeID, nil
}

// Clear drops every branch.
func (b *Branching) Clear(ctx context.Context) error {
	b.mu.Lock()
	b.loaded = true
	b.branches = nil
	b.activeID = ""
	b.persist.handOff(ctx, &b.mu, "branch clear", func(ctx context.Context) error {
		if b.store == nil {
			return nil
		}
		return b.store.Clear(ctx)
	})
	return nil
}

func (b *Branching) newBranchLocked(history []chat.Message, summaries []ConversationSummary) DialogBranch {
	return DialogBranch{
		CreatedAt: b.opts.now(),
		ID:        b.opts.newID(),
		Name:      fmt.Sprintf("Branch %d", len(b.branches)+1),
		Messages:  chat.Clone(history),
		Summaries: cloneSummaries(summaries),
	}
}

func (b *Branching) findLocked(id string) *DialogBranch {
	for i := range b.branches {
		if b.branches[i].ID == id {
			return &b.branches[i]
		}
	}
	return nil
}

func (b *Branching) activeLocked() *DialogBranch {
	if b.activeID == "" {
		return nil
	}
	return b.findLocked(b.activeID)
}

func (b *Branching) loadLocked(ctx context.Context) {
	if b.loaded {
		return
	}
	b.loaded = true
	if b.store == nil {
		return
	}

	stored, err := b.store.All(ctx)
	if err != nil {
		b.opts.logger.Warn("loading branches failed, starting empty: %v", err)
		return
	}
	activeID, err := b.store.ActiveID(ctx)
	if err != nil {
		b.opts.logger.Warn("loading active branch failed: %v", err)
	}

	b.branches = make([]DialogBranch, len(stored))
	for i := range stored {
		b.branches[i] = cloneBranch(&stored[i])
	}
	b.activeID = activeID
	if b.activeLocked() == nil && len(b.branches) > 0 {
		b.activeID = b.branches[0].ID
	}
}

func (b *Branching) saveOp(branch DialogBranch) func(context.Context) error {
	return func(ctx context.Context) error {
		if b.store == nil {
			return nil
		}
		return b.store.Save(ctx, branch)
	}
}

func (b *Branching) activateOp(id string) func(context.Context) error {
	return func(ctx context.Context) error {
		if b.store == nil {
			return nil
		}
		return b.store.SetActive(ctx, id)
	}
}
