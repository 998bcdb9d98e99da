package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatmemory/pkg/chat"
	"chatmemory/pkg/contextmgr"
)

// DatabaseOperations scopes every query to one session.
type DatabaseOperations struct {
	db        *sql.DB
	sessionID string
}

// NewDatabaseOperations creates operations for session on db.
func NewDatabaseOperations(db *sql.DB, sessionID string) *DatabaseOperations {
	return &DatabaseOperations{db: db, sessionID: sessionID}
}

// SessionID returns the session the operations are scoped to.
func (ops *DatabaseOperations) SessionID() string {
	return ops.sessionID
}

// Summaries returns the session's summary store.
func (ops *DatabaseOperations) Summaries() *SummaryStore {
	return &SummaryStore{ops: ops}
}

// Facts returns the session's fact store.
func (ops *DatabaseOperations) Facts() *FactStore {
	return &FactStore{ops: ops}
}

// Branches returns the session's branch store.
func (ops *DatabaseOperations) Branches() *BranchStore {
	return &BranchStore{ops: ops}
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (ops *DatabaseOperations) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := ops.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveHistory overwrites the session's persisted message log.
func (ops *DatabaseOperations) SaveHistory(ctx context.Context, messages []chat.Message) error {
	data, err := contextmgr.MarshalMessages(messages)
	if err != nil {
		return err
	}
	_, err = ops.db.ExecContext(ctx, `
		INSERT INTO history (session_id, messages, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at
	`, ops.sessionID, string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save history for session %s: %w", ops.sessionID, err)
	}
	return nil
}

// LoadHistory returns the session's persisted message log, empty when none was saved.
func (ops *DatabaseOperations) LoadHistory(ctx context.Context) ([]chat.Message, error) {
	var data string
	err := ops.db.QueryRowContext(ctx, `SELECT messages FROM history WHERE session_id = ?`, ops.sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for session %s: %w", ops.sessionID, err)
	}
	return contextmgr.UnmarshalMessages([]byte(data))
}

// SummaryStore is a contextmgr.SummaryStore backed by the summaries table.
type SummaryStore struct {
	ops *DatabaseOperations
}

// All returns the summaries in creation order.
func (s *SummaryStore) All(ctx context.Context) ([]contextmgr.ConversationSummary, error) {
	rows, err := s.ops.db.QueryContext(ctx, `
		SELECT digest_text, original_messages, created_at
		FROM summaries WHERE session_id = ? ORDER BY id
	`, s.ops.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contextmgr.ConversationSummary
	for rows.Next() {
		var stored contextmgr.SerializedSummary
		var originals string
		if err := rows.Scan(&stored.DigestText, &originals, &stored.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		if err := json.Unmarshal([]byte(originals), &stored.OriginalMessages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary messages: %w", err)
		}
		summary, err := contextmgr.DeserializeSummary(&stored)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return out, nil
}

// Add appends summary.
func (s *SummaryStore) Add(ctx context.Context, summary contextmgr.ConversationSummary) error {
	return s.ops.withTx(ctx, func(tx *sql.Tx) error {
		return insertSummary(ctx, tx, s.ops.sessionID, &summary)
	})
}

// ReplaceAll overwrites the session's summaries.
func (s *SummaryStore) ReplaceAll(ctx context.Context, summaries []contextmgr.ConversationSummary) error {
	return s.ops.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE session_id = ?`, s.ops.sessionID); err != nil {
			return fmt.Errorf("failed to delete summaries: %w", err)
		}
		for i := range summaries {
			if err := insertSummary(ctx, tx, s.ops.sessionID, &summaries[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear deletes the session's summaries.
func (s *SummaryStore) Clear(ctx context.Context) error {
	if _, err := s.ops.db.ExecContext(ctx, `DELETE FROM summaries WHERE session_id = ?`, s.ops.sessionID); err != nil {
		return fmt.Errorf("failed to clear summaries: %w", err)
	}
	return nil
}

func insertSummary(ctx context.Context, tx *sql.Tx, session string, summary *contextmgr.ConversationSummary) error {
	stored := contextmgr.SerializeSummary(summary)
	originals, err := json.Marshal(stored.OriginalMessages)
	if err != nil {
		return fmt.Errorf("failed to marshal summary messages: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO summaries (session_id, digest_text, original_messages, created_at)
		VALUES (?, ?, ?, ?)
	`, session, stored.DigestText, string(originals), stored.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

// FactStore is a contextmgr.FactStore backed by the facts table.
type FactStore struct {
	ops *DatabaseOperations
}

// All returns the fact set in stored order.
func (s *FactStore) All(ctx context.Context) ([]contextmgr.Fact, error) {
	rows, err := s.ops.db.QueryContext(ctx, `
		SELECT fact_key, fact_value, updated_at
		FROM facts WHERE session_id = ? ORDER BY position
	`, s.ops.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contextmgr.Fact
	for rows.Next() {
		var stored contextmgr.SerializedFact
		if err := rows.Scan(&stored.Key, &stored.Value, &stored.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		out = append(out, contextmgr.DeserializeFact(&stored))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate facts: %w", err)
	}
	return out, nil
}

// ReplaceAll swaps the whole fact set atomically.
func (s *FactStore) ReplaceAll(ctx context.Context, facts []contextmgr.Fact) error {
	return s.ops.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE session_id = ?`, s.ops.sessionID); err != nil {
			return fmt.Errorf("failed to delete facts: %w", err)
		}
		for i := range facts {
			stored := contextmgr.SerializeFact(&facts[i])
			_, err := tx.ExecContext(ctx, `
				INSERT INTO facts (session_id, position, fact_key, fact_value, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, s.ops.sessionID, i, stored.Key, stored.Value, stored.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert fact %s: %w", stored.Key, err)
			}
		}
		return nil
	})
}

// Clear deletes the session's facts.
func (s *FactStore) Clear(ctx context.Context) error {
	if _, err := s.ops.db.ExecContext(ctx, `DELETE FROM facts WHERE session_id = ?`, s.ops.sessionID); err != nil {
		return fmt.Errorf("failed to clear facts: %w", err)
	}
	return nil
}

// BranchStore is a contextmgr.BranchStore backed by the branches and branch_state tables.
type BranchStore struct {
	ops *DatabaseOperations
}

// All returns the branches in creation order.
func (s *BranchStore) All(ctx context.Context) ([]contextmgr.DialogBranch, error) {
	rows, err := s.ops.db.QueryContext(ctx, `
		SELECT id, name, messages, summaries, created_at
		FROM branches WHERE session_id = ? ORDER BY position
	`, s.ops.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query branches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contextmgr.DialogBranch
	for rows.Next() {
		var stored contextmgr.SerializedBranch
		var messages, summaries string
		if err := rows.Scan(&stored.ID, &stored.Name, &messages, &summaries, &stored.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &stored.Messages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal branch %s messages: %w", stored.ID, err)
		}
		if err := json.Unmarshal([]byte(summaries), &stored.Summaries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal branch %s summaries: %w", stored.ID, err)
		}
		branch, err := contextmgr.DeserializeBranch(&stored)
		if err != nil {
			return nil, err
		}
		out = append(out, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate branches: %w", err)
	}
	return out, nil
}

// ActiveID returns the active branch id, empty when none was set.
func (s *BranchStore) ActiveID(ctx context.Context) (string, error) {
	var id string
	err := s.ops.db.QueryRowContext(ctx, `SELECT active_id FROM branch_state WHERE session_id = ?`, s.ops.sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query active branch: %w", err)
	}
	return id, nil
}

// Save inserts branch at the end or replaces the branch with the same id in place.
func (s *BranchStore) Save(ctx context.Context, branch contextmgr.DialogBranch) error {
	stored := contextmgr.SerializeBranch(&branch)
	messages, err := json.Marshal(stored.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal branch messages: %w", err)
	}
	summaries, err := json.Marshal(stored.Summaries)
	if err != nil {
		return fmt.Errorf("failed to marshal branch summaries: %w", err)
	}

	return s.ops.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO branches (session_id, id, position, name, messages, summaries, created_at)
			VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM branches WHERE session_id = ?), ?, ?, ?, ?)
			ON CONFLICT(session_id, id) DO UPDATE SET
				name = excluded.name,
				messages = excluded.messages,
				summaries = excluded.summaries,
				created_at = excluded.created_at
		`, s.ops.sessionID, stored.ID, s.ops.sessionID, stored.Name, string(messages), string(summaries), stored.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save branch %s: %w", stored.ID, err)
		}
		return nil
	})
}

// SetActive records id as the active branch.
func (s *BranchStore) SetActive(ctx context.Context, id string) error {
	_, err := s.ops.db.ExecContext(ctx, `
		INSERT INTO branch_state (session_id, active_id) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET active_id = excluded.active_id
	`, s.ops.sessionID, id)
	if err != nil {
		return fmt.Errorf("failed to set active branch: %w", err)
	}
	return nil
}

// Clear deletes the session's branches and active pointer.
func (s *BranchStore) Clear(ctx context.Context) error {
	return s.ops.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM branches WHERE session_id = ?`, s.ops.sessionID); err != nil {
			return fmt.Errorf("failed to clear branches: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM branch_state WHERE session_id = ?`, s.ops.sessionID); err != nil {
			return fmt.Errorf("failed to clear branch state: %w", err)
		}
		return nil
	})
}

var (
	_ contextmgr.SummaryStore = (*SummaryStore)(nil)
	_ contextmgr.FactStore    = (*FactStore)(nil)
	_ contextmgr.BranchStore  = (*BranchStore)(nil)
)
