package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatmemory/pkg/chat"
)

var errStoreDown = errors.New("store unavailable")

// conversation builds n alternating user/assistant messages "message 0".."message n-1".
func conversation(n int) []chat.Message {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]chat.Message, n)
	for i := 0; i < n; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		out[i] = chat.Message{Role: role, Content: fmt.Sprintf("message %d", i), Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func contents(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Content
	}
	return out
}

// withTokens returns a message whose heuristic estimate is exactly tokens.
func withTokens(role chat.Role, label string, tokens int) chat.Message {
	content := label + strings.Repeat("x", tokens*CharsPerToken-len(label))
	return chat.Message{Role: role, Content: content}
}

type fakeSummaryStore struct {
	mu        sync.Mutex
	summaries []ConversationSummary
	fail      bool
	clears    int
}

func (f *fakeSummaryStore) All(context.Context) ([]ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	return cloneSummaries(f.summaries), nil
}

func (f *fakeSummaryStore) Add(_ context.Context, s ConversationSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeSummaryStore) ReplaceAll(_ context.Context, s []ConversationSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	f.summaries = cloneSummaries(s)
	return nil
}

func (f *fakeSummaryStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	f.clears++
	f.summaries = nil
	return nil
}

type fakeFactStore struct {
	mu    sync.Mutex
	facts []Fact
	fail  bool
}

func (f *fakeFactStore) All(context.Context) ([]Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	return cloneFacts(f.facts), nil
}

func (f *fakeFactStore) ReplaceAll(_ context.Context, facts []Fact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	f.facts = cloneFacts(facts)
	return nil
}

func (f *fakeFactStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	f.facts = nil
	return nil
}

type fakeBranchStore struct {
	mu       sync.Mutex
	branches []DialogBranch
	active   string
	fail     bool
}

func (f *fakeBranchStore) All(context.Context) ([]DialogBranch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	out := make([]DialogBranch, len(f.branches))
	for i := range f.branches {
		out[i] = cloneBranch(&f.branches[i])
	}
	return out, nil
}

func (f *fakeBranchStore) ActiveID(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errStoreDown
	}
	return f.active, nil
}

func (f *fakeBranchStore) Save(_ context.Context, b DialogBranch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	for i := range f.branches {
		if f.branches[i].ID == b.ID {
			f.branches[i] = cloneBranch(&b)
			return nil
		}
	}
	f.branches = append(f.branches, cloneBranch(&b))
	return nil
}

func (f *fakeBranchStore) SetActive(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	f.active = id
	return nil
}

func (f *fakeBranchStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	f.branches = nil
	f.active = ""
	return nil
}

// sequentialIDs returns an id generator producing "b1", "b2", ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("b%d", n)
	}
}
