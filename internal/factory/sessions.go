package factory

import (
	"context"
	"errors"
	"fmt"
	"os"

	"chatmemory/pkg/config"
	"chatmemory/pkg/persistence"
	"chatmemory/pkg/state"
)

// ErrNoSessions is returned by the session catalog of a backend that persists nothing.
var ErrNoSessions = errors.New("the memory backend keeps no sessions")

// SessionInfo describes one persisted session. Strategy, Status and LastActive are only known to
// the SQLite backend.
type SessionInfo struct {
	ID         string
	Strategy   string
	Status     string
	LastActive string
}

// ListSessions returns the sessions persisted by the configured backend.
func ListSessions(ctx context.Context, cfg *config.Config) ([]SessionInfo, error) {
	switch cfg.Storage.Backend {
	case config.StorageFile:
		store, err := state.NewStore(cfg.Storage.Dir)
		if err != nil {
			return nil, err
		}
		ids, err := store.ListSessions()
		if err != nil {
			return nil, err
		}
		out := make([]SessionInfo, 0, len(ids))
		for _, id := range ids {
			out = append(out, SessionInfo{ID: id})
		}
		return out, nil

	case config.StorageSQLite:
		var out []SessionInfo
		err := withSQLite(cfg, func() error {
			sessions, err := persistence.ListSessions(ctx, persistence.GetDB())
			if err != nil {
				return err
			}
			for i := range sessions {
				s := &sessions[i]
				out = append(out, SessionInfo{
					ID:         s.SessionID,
					Strategy:   s.Strategy,
					Status:     s.Status,
					LastActive: s.LastActiveAt.Local().Format("2006-01-02 15:04"),
				})
			}
			return nil
		})
		return out, err

	case config.StorageMemory:
		return nil, ErrNoSessions

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// DeleteSession removes every persisted trace of session.
func DeleteSession(ctx context.Context, cfg *config.Config, session string) error {
	switch cfg.Storage.Backend {
	case config.StorageFile:
		store, err := state.NewStore(cfg.Storage.Dir)
		if err != nil {
			return err
		}
		return store.DeleteSession(session)

	case config.StorageSQLite:
		return withSQLite(cfg, func() error {
			return persistence.DeleteSession(ctx, persistence.GetDB(), session)
		})

	case config.StorageMemory:
		return ErrNoSessions

	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// withSQLite opens the configured database for fn and closes it afterwards. A database that
// does not exist yet holds no sessions and is not created.
func withSQLite(cfg *config.Config, fn func() error) error {
	if _, err := os.Stat(cfg.Storage.SQLitePath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := persistence.Initialize(cfg.Storage.SQLitePath); err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	return errors.Join(fn(), persistence.Close())
}
