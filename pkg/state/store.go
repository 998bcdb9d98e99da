package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"chatmemory/pkg/chat"
	"chatmemory/pkg/contextmgr"
)

// File suffixes, one file per session and kind: <session>.<kind>.json.
const (
	summariesSuffix = ".summaries.json"
	factsSuffix     = ".facts.json"
	branchesSuffix  = ".branches.json"
	historySuffix   = ".history.json"
)

var allSuffixes = []string{summariesSuffix, factsSuffix, branchesSuffix, historySuffix}

// ErrInvalidSession is returned for session ids that cannot be used as file names.
var ErrInvalidSession = errors.New("invalid session id")

// Store manages persistent strategy state as JSON files in a directory.
type Store struct {
	baseDir string
	mu      sync.Mutex // serializes read-modify-write cycles across all files
}

// NewStore creates a new state store with the given base directory.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string {
	return s.baseDir
}

// ValidateSession checks that session can name a state file.
func ValidateSession(session string) error {
	if strings.TrimSpace(session) == "" || session == "." || session == ".." ||
		strings.ContainsAny(session, `/\`) || strings.ContainsRune(session, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidSession, session)
	}
	return nil
}

// Summaries returns the summary store for session.
func (s *Store) Summaries(session string) (*SummaryFile, error) {
	if err := ValidateSession(session); err != nil {
		return nil, err
	}
	return &SummaryFile{store: s, path: s.filename(session, summariesSuffix)}, nil
}

// Facts returns the fact store for session.
func (s *Store) Facts(session string) (*FactFile, error) {
	if err := ValidateSession(session); err != nil {
		return nil, err
	}
	return &FactFile{store: s, path: s.filename(session, factsSuffix)}, nil
}

// Branches returns the branch store for session.
func (s *Store) Branches(session string) (*BranchFile, error) {
	if err := ValidateSession(session); err != nil {
		return nil, err
	}
	return &BranchFile{store: s, path: s.filename(session, branchesSuffix)}, nil
}

// History returns the message log store for session.
func (s *Store) History(session string) (*HistoryFile, error) {
	if err := ValidateSession(session); err != nil {
		return nil, err
	}
	return &HistoryFile{store: s, path: s.filename(session, historySuffix)}, nil
}

// ListSessions returns the sessions that have any persisted state, sorted.
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		for _, suffix := range allSuffixes {
			if session, ok := strings.CutSuffix(name, suffix); ok && session != "" {
				seen[session] = struct{}{}
			}
		}
	}

	sessions := make([]string, 0, len(seen))
	for session := range seen {
		sessions = append(sessions, session)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// DeleteSession removes every state file of session.
func (s *Store) DeleteSession(session string) error {
	if err := ValidateSession(session); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, suffix := range allSuffixes {
		if err := removeIfExists(s.filename(session, suffix)); err != nil {
			return fmt.Errorf("failed to delete state for session %s: %w", session, err)
		}
	}
	return nil
}

func (s *Store) filename(session, suffix string) string {
	return filepath.Join(s.baseDir, session+suffix)
}

// readJSON decodes path into v. A missing file leaves v untouched and is not an error.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal state file %s: %w", path, err)
	}
	return nil
}

// writeJSON replaces path atomically: readers see either the old or the new content.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state file %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state file %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file %s: %w", path, err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SummaryFile is a contextmgr.SummaryStore backed by one JSON file.
type SummaryFile struct {
	store *Store
	path  string
}

func (f *SummaryFile) load() ([]contextmgr.ConversationSummary, error) {
	var stored []contextmgr.SerializedSummary
	if err := readJSON(f.path, &stored); err != nil {
		return nil, err
	}
	out := make([]contextmgr.ConversationSummary, 0, len(stored))
	for i := range stored {
		summary, err := contextmgr.DeserializeSummary(&stored[i])
		if err != nil {
			return nil, fmt.Errorf("state file %s: %w", f.path, err)
		}
		out = append(out, summary)
	}
	return out, nil
}

func (f *SummaryFile) save(summaries []contextmgr.ConversationSummary) error {
	stored := make([]contextmgr.SerializedSummary, len(summaries))
	for i := range summaries {
		stored[i] = contextmgr.SerializeSummary(&summaries[i])
	}
	return writeJSON(f.path, stored)
}

// All returns the summaries in creation order.
func (f *SummaryFile) All(context.Context) ([]contextmgr.ConversationSummary, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.load()
}

// Add appends summary.
func (f *SummaryFile) Add(_ context.Context, summary contextmgr.ConversationSummary) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	existing, err := f.load()
	if err != nil {
		return err
	}
	return f.save(append(existing, summary))
}

// ReplaceAll overwrites the stored summaries.
func (f *SummaryFile) ReplaceAll(_ context.Context, summaries []contextmgr.ConversationSummary) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.save(summaries)
}

// Clear removes the file.
func (f *SummaryFile) Clear(context.Context) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return removeIfExists(f.path)
}

// FactFile is a contextmgr.FactStore backed by one JSON file.
type FactFile struct {
	store *Store
	path  string
}

// All returns the stored fact set.
func (f *FactFile) All(context.Context) ([]contextmgr.Fact, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	var stored []contextmgr.SerializedFact
	if err := readJSON(f.path, &stored); err != nil {
		return nil, err
	}
	out := make([]contextmgr.Fact, len(stored))
	for i := range stored {
		out[i] = contextmgr.DeserializeFact(&stored[i])
	}
	return out, nil
}

// ReplaceAll swaps the whole fact set.
func (f *FactFile) ReplaceAll(_ context.Context, facts []contextmgr.Fact) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	stored := make([]contextmgr.SerializedFact, len(facts))
	for i := range facts {
		stored[i] = contextmgr.SerializeFact(&facts[i])
	}
	return writeJSON(f.path, stored)
}

// Clear removes the file.
func (f *FactFile) Clear(context.Context) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return removeIfExists(f.path)
}

// branchDocument is the on-disk layout of a BranchFile.
type branchDocument struct {
	ActiveID string                        `json:"active_id"`
	Branches []contextmgr.SerializedBranch `json:"branches"`
}

// BranchFile is a contextmgr.BranchStore backed by one JSON file.
type BranchFile struct {
	store *Store
	path  string
}

func (f *BranchFile) load() (branchDocument, error) {
	var doc branchDocument
	err := readJSON(f.path, &doc)
	return doc, err
}

// All returns the branches in creation order.
func (f *BranchFile) All(context.Context) ([]contextmgr.DialogBranch, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make([]contextmgr.DialogBranch, 0, len(doc.Branches))
	for i := range doc.Branches {
		branch, err := contextmgr.DeserializeBranch(&doc.Branches[i])
		if err != nil {
			return nil, fmt.Errorf("state file %s: %w", f.path, err)
		}
		out = append(out, branch)
	}
	return out, nil
}

// ActiveID returns the active branch id, empty when none was set.
func (f *BranchFile) ActiveID(context.Context) (string, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return "", err
	}
	return doc.ActiveID, nil
}

// Save inserts branch or replaces the branch with the same id in place.
func (f *BranchFile) Save(_ context.Context, branch contextmgr.DialogBranch) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	stored := contextmgr.SerializeBranch(&branch)
	replaced := false
	for i := range doc.Branches {
		if doc.Branches[i].ID == branch.ID {
			doc.Branches[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Branches = append(doc.Branches, stored)
	}
	return writeJSON(f.path, doc)
}

// SetActive records id as the active branch.
func (f *BranchFile) SetActive(_ context.Context, id string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	doc.ActiveID = id
	return writeJSON(f.path, doc)
}

// Clear removes the file.
func (f *BranchFile) Clear(context.Context) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return removeIfExists(f.path)
}

// HistoryFile persists the visible message log of a session.
type HistoryFile struct {
	store *Store
	path  string
}

// LoadHistory returns the saved messages, empty when nothing was saved.
func (f *HistoryFile) LoadHistory(context.Context) ([]chat.Message, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	var stored []contextmgr.SerializedMessage
	if err := readJSON(f.path, &stored); err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, nil
	}
	return contextmgr.DeserializeMessages(stored)
}

// SaveHistory overwrites the saved messages.
func (f *HistoryFile) SaveHistory(_ context.Context, messages []chat.Message) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return writeJSON(f.path, contextmgr.SerializeMessages(messages))
}

var (
	_ contextmgr.SummaryStore = (*SummaryFile)(nil)
	_ contextmgr.FactStore    = (*FactFile)(nil)
	_ contextmgr.BranchStore  = (*BranchFile)(nil)
)
