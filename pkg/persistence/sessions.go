package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is one named conversation whose state lives in the database.
type Session struct {
	StartedAt    time.Time `json:"started_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	SessionID    string    `json:"session_id"`
	Strategy     string    `json:"strategy"`
	Status       string    `json:"status"`
	ConfigJSON   string    `json:"config_json"` // Snapshot of config at last open
}

// Session status constants.
const (
	SessionStatusActive  = "active"
	SessionStatusClosed  = "closed"  // Graceful exit
	SessionStatusCrashed = "crashed" // Found active at startup
)

// OpenSession creates the session record or, if it exists, marks it active again with the
// current strategy and config snapshot.
func OpenSession(ctx context.Context, db *sql.DB, sessionID, strategy, configJSON string) error {
	now := time.Now().UnixNano()
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, strategy, status, config_json, started_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			strategy = excluded.strategy,
			status = excluded.status,
			config_json = excluded.config_json,
			last_active_at = excluded.last_active_at
	`, sessionID, strategy, SessionStatusActive, configJSON, now, now)
	if err != nil {
		return fmt.Errorf("failed to open session %s: %w", sessionID, err)
	}
	return nil
}

// TouchSession records activity and the current strategy.
func TouchSession(ctx context.Context, db *sql.DB, sessionID, strategy string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE sessions SET last_active_at = ?, strategy = ? WHERE session_id = ?
	`, time.Now().UnixNano(), strategy, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return requireRow(result)
}

// UpdateSessionStatus sets the status of a session.
func UpdateSessionStatus(ctx context.Context, db *sql.DB, sessionID, status string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, last_active_at = ? WHERE session_id = ?
	`, status, time.Now().UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var startedAt, lastActiveAt int64
	err := row.Scan(&session.SessionID, &session.Strategy, &session.Status, &session.ConfigJSON, &startedAt, &lastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	session.StartedAt = time.Unix(0, startedAt).UTC()
	session.LastActiveAt = time.Unix(0, lastActiveAt).UTC()
	return &session, nil
}

const sessionColumns = `session_id, strategy, status, config_json, started_at, last_active_at`

// GetSession returns a session by ID.
func GetSession(ctx context.Context, db *sql.DB, sessionID string) (*Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// ListSessions returns all sessions, most recently active first.
func ListSessions(ctx context.Context, db *sql.DB) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY last_active_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

// MarkStaleSessions marks any 'active' sessions as 'crashed'. Called at startup to detect
// sessions that did not exit cleanly.
func MarkStaleSessions(ctx context.Context, db *sql.DB) (int64, error) {
	result, err := db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE status = ?`,
		SessionStatusCrashed, SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteSession removes a session and all of its state.
func DeleteSession(ctx context.Context, db *sql.DB, sessionID string) error {
	ops := NewDatabaseOperations(db, sessionID)
	return ops.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"summaries", "facts", "branches", "branch_state", "history", "sessions"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
				return fmt.Errorf("failed to delete %s for session %s: %w", table, sessionID, err)
			}
		}
		return nil
	})
}

// ConfigSnapshotToJSON serializes a config snapshot for storage.
func ConfigSnapshotToJSON(config any) (string, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config snapshot: %w", err)
	}
	return string(data), nil
}

// ConfigSnapshotFromJSON deserializes a stored config snapshot into target.
func ConfigSnapshotFromJSON(jsonStr string, target any) error {
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("failed to unmarshal config snapshot: %w", err)
	}
	return nil
}
