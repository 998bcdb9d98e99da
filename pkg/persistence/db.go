package persistence

import (
	"database/sql"
	"fmt"
	"sync"

	"chatmemory/pkg/logx"
)

// The process-wide database used by the CLI. Tests may open their own with InitializeDatabase.
//
//nolint:gochecknoglobals // Intentional singleton for database access
var (
	globalMu   sync.RWMutex
	globalDB   *sql.DB
	globalPath string
)

// Initialize opens the process-wide database at dbPath. Calling it again with the same path is a
// no-op; a different path is an error until Close is called.
func Initialize(dbPath string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalDB != nil {
		if dbPath == globalPath {
			return nil
		}
		return fmt.Errorf("database already open at %s, cannot open %s", globalPath, dbPath)
	}

	db, err := InitializeDatabase(dbPath)
	if err != nil {
		return err
	}
	globalDB = db
	globalPath = dbPath
	logx.NewLogger("persistence").Info("📦 Database initialized: %s", dbPath)
	return nil
}

// GetDB returns the process-wide database. It panics if Initialize has not been called.
func GetDB() *sql.DB {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalDB == nil {
		panic("persistence.Initialize must be called before GetDB")
	}
	return globalDB
}

// Ops returns the operations for session on the process-wide database.
func Ops(session string) *DatabaseOperations {
	return NewDatabaseOperations(GetDB(), session)
}

// IsInitialized reports whether the process-wide database is open.
func IsInitialized() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalDB != nil
}

// Close closes the process-wide database. Initialize may be called again afterwards.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalDB == nil {
		return nil
	}
	err := globalDB.Close()
	globalDB = nil
	globalPath = ""
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Reset closes the database; kept for tests that clean up after OpenStores.
func Reset() error {
	return Close()
}
