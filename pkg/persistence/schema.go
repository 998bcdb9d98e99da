// Package persistence provides SQLite-based storage for strategy state and session history.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 2

// InitializeDatabase opens the SQLite database at dbPath and brings its schema to the current
// version. It is idempotent and safe to call on an existing database.
func InitializeDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func dsn(dbPath string) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
}

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies a specific version migration.
func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds session bookkeeping and persisted conversation history.
func migrateToVersion2(db *sql.DB) error {
	return execAll(db, append(append([]string{}, version2Tables...), version2Indices...))
}

// Version 1 holds the strategy state tables.
var version1Tables = []string{
	`CREATE TABLE IF NOT EXISTS summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		digest_text TEXT NOT NULL,
		original_messages TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS facts (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		fact_key TEXT NOT NULL,
		fact_value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, position)
	)`,

	`CREATE TABLE IF NOT EXISTS branches (
		session_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		messages TEXT NOT NULL,
		summaries TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, id)
	)`,

	`CREATE TABLE IF NOT EXISTS branch_state (
		session_id TEXT PRIMARY KEY,
		active_id TEXT NOT NULL
	)`,
}

var version1Indices = []string{
	"CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id)",
	"CREATE INDEX IF NOT EXISTS idx_branches_session ON branches(session_id, position)",
}

var version2Tables = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		strategy TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','closed','crashed')),
		config_json TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS history (
		session_id TEXT PRIMARY KEY,
		messages TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

var version2Indices = []string{
	"CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)",
}

// createSchema creates all required tables and indices at the current version.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	var ddl []string
	ddl = append(ddl, version1Tables...)
	ddl = append(ddl, version2Tables...)
	ddl = append(ddl, version1Indices...)
	ddl = append(ddl, version2Indices...)
	if err := execAll(db, ddl); err != nil {
		return err
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// createSchemaVersion1 builds the version 1 layout. Used to exercise migrations.
func createSchemaVersion1(db *sql.DB) error {
	if err := execAll(db, append(append([]string{}, version1Tables...), version1Indices...)); err != nil {
		return err
	}
	return setSchemaVersion(db, 1)
}

func execAll(db *sql.DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i := range len(s) {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
