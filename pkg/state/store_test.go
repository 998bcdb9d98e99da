package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"chatmemory/pkg/chat"
	"chatmemory/pkg/contextmgr"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleMessages() []chat.Message {
	return []chat.Message{
		{Role: chat.RoleUser, Content: "hello", Timestamp: base},
		{Role: chat.RoleAssistant, Content: "hi there", Timestamp: base.Add(time.Second)},
	}
}

func sampleSummary(text string) contextmgr.ConversationSummary {
	return contextmgr.ConversationSummary{
		DigestText:       text,
		OriginalMessages: sampleMessages(),
		CreatedAt:        base.Add(time.Minute),
	}
}

func TestNewStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("Expected no error creating store, got %v", err)
	}
	if store.Dir() != dir {
		t.Errorf("Expected baseDir %s, got %s", dir, store.Dir())
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected base directory to be created: %v", err)
	}
}

func TestValidateSession(t *testing.T) {
	for _, session := range []string{"", "  ", ".", "..", "a/b", `a\b`} {
		if err := ValidateSession(session); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("ValidateSession(%q) = %v, want ErrInvalidSession", session, err)
		}
	}
	for _, session := range []string{"default", "work-2024", "user_1.test"} {
		if err := ValidateSession(session); err != nil {
			t.Errorf("ValidateSession(%q) = %v, want nil", session, err)
		}
	}

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Summaries("../escape"); err == nil {
		t.Error("Expected error for path traversal session")
	}
}

func TestSummaryFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	summaries, err := store.Summaries("s1")
	if err != nil {
		t.Fatal(err)
	}

	got, err := summaries.All(ctx)
	if err != nil {
		t.Fatalf("All on missing file: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Expected no summaries, got %d", len(got))
	}

	if err := summaries.Add(ctx, sampleSummary("first")); err != nil {
		t.Fatal(err)
	}
	if err := summaries.Add(ctx, sampleSummary("second")); err != nil {
		t.Fatal(err)
	}

	// A fresh handle reads what the first one wrote.
	reopened, err := store.Summaries("s1")
	if err != nil {
		t.Fatal(err)
	}
	got, err = reopened.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].DigestText != "first" || got[1].DigestText != "second" {
		t.Fatalf("Unexpected summaries: %+v", got)
	}
	if !got[0].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, base.Add(time.Minute))
	}
	if !reflect.DeepEqual(got[0].OriginalMessages, sampleMessages()) {
		t.Errorf("OriginalMessages = %+v", got[0].OriginalMessages)
	}

	if err := summaries.ReplaceAll(ctx, []contextmgr.ConversationSummary{sampleSummary("only")}); err != nil {
		t.Fatal(err)
	}
	got, _ = summaries.All(ctx)
	if len(got) != 1 || got[0].DigestText != "only" {
		t.Fatalf("ReplaceAll not applied: %+v", got)
	}

	if err := summaries.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := summaries.Clear(ctx); err != nil {
		t.Errorf("Clear on missing file should succeed, got %v", err)
	}
	got, _ = summaries.All(ctx)
	if len(got) != 0 {
		t.Errorf("Expected empty after Clear, got %d", len(got))
	}
}

func TestFactFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	facts, err := store.Facts("s1")
	if err != nil {
		t.Fatal(err)
	}

	want := []contextmgr.Fact{
		{Key: "name", Value: "Ada", UpdatedAt: base},
		{Key: "goal", Value: "learn go", UpdatedAt: base.Add(time.Hour)},
	}
	if err := facts.ReplaceAll(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := facts.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %+v, want %+v", got, want)
	}

	if err := facts.ReplaceAll(ctx, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = facts.All(ctx)
	if len(got) != 0 {
		t.Errorf("Expected empty fact set, got %+v", got)
	}
}

func TestBranchFileSaveReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	branches, err := store.Branches("s1")
	if err != nil {
		t.Fatal(err)
	}

	active, err := branches.ActiveID(ctx)
	if err != nil || active != "" {
		t.Fatalf("ActiveID on missing file = %q, %v", active, err)
	}

	first := contextmgr.DialogBranch{ID: "b1", Name: "Branch 1", CreatedAt: base, Messages: sampleMessages()}
	alt := contextmgr.DialogBranch{ID: "b2", Name: "Branch 2", CreatedAt: base.Add(time.Minute)}
	for _, b := range []contextmgr.DialogBranch{first, alt} {
		if err := branches.Save(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	if err := branches.SetActive(ctx, "b2"); err != nil {
		t.Fatal(err)
	}

	first.Messages = append(first.Messages, chat.Message{Role: chat.RoleUser, Content: "more", Timestamp: base.Add(time.Hour)})
	first.Summaries = []contextmgr.ConversationSummary{sampleSummary("digest")}
	if err := branches.Save(ctx, first); err != nil {
		t.Fatal(err)
	}

	got, err := branches.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 branches, got %d", len(got))
	}
	if got[0].ID != "b1" || got[1].ID != "b2" {
		t.Errorf("Creation order lost: %s, %s", got[0].ID, got[1].ID)
	}
	if len(got[0].Messages) != 3 || len(got[0].Summaries) != 1 {
		t.Errorf("Branch b1 not updated: %d messages, %d summaries", len(got[0].Messages), len(got[0].Summaries))
	}

	active, _ = branches.ActiveID(ctx)
	if active != "b2" {
		t.Errorf("ActiveID = %q, want b2", active)
	}

	if err := branches.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = branches.All(ctx)
	active, _ = branches.ActiveID(ctx)
	if len(got) != 0 || active != "" {
		t.Errorf("Expected cleared branch state, got %d branches, active %q", len(got), active)
	}
}

func TestCorruptFileReportsError(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "s1"+factsSuffix), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	facts, _ := store.Facts("s1")
	if _, err := facts.All(context.Background()); err == nil {
		t.Error("Expected error for corrupt state file")
	}
}

func TestListAndDeleteSessions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	facts, _ := store.Facts("beta")
	_ = facts.ReplaceAll(ctx, []contextmgr.Fact{{Key: "k", Value: "v"}})
	summaries, _ := store.Summaries("alpha")
	_ = summaries.Add(ctx, sampleSummary("x"))
	branches, _ := store.Branches("alpha")
	_ = branches.SetActive(ctx, "b1")
	_ = os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644)

	sessions, err := store.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sessions, []string{"alpha", "beta"}) {
		t.Errorf("ListSessions() = %v", sessions)
	}

	if err := store.DeleteSession("alpha"); err != nil {
		t.Fatal(err)
	}
	sessions, _ = store.ListSessions()
	if !reflect.DeepEqual(sessions, []string{"beta"}) {
		t.Errorf("ListSessions() after delete = %v", sessions)
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	facts, _ := store.Facts("s1")
	for i := 0; i < 5; i++ {
		if err := facts.ReplaceAll(ctx, []contextmgr.Fact{{Key: "n", Value: "v"}}); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("Expected only the fact file, found %v", names)
	}
}

func TestHistoryFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	history, err := store.History("s1")
	if err != nil {
		t.Fatal(err)
	}

	got, err := history.LoadHistory(ctx)
	if err != nil || got != nil {
		t.Fatalf("LoadHistory on missing file = %v, %v", got, err)
	}
	if err := history.SaveHistory(ctx, sampleMessages()); err != nil {
		t.Fatal(err)
	}
	got, err = history.LoadHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, sampleMessages()) {
		t.Errorf("LoadHistory() = %+v", got)
	}

	sessions, _ := store.ListSessions()
	if !reflect.DeepEqual(sessions, []string{"s1"}) {
		t.Errorf("History file not listed as session state: %v", sessions)
	}
}
