// Package factory assembles strategies and their persistence backends from configuration.
package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"chatmemory/pkg/chat"
	"chatmemory/pkg/config"
	"chatmemory/pkg/contextmgr"
	"chatmemory/pkg/logx"
	"chatmemory/pkg/persistence"
	"chatmemory/pkg/state"
)

// HistoryStore persists the visible message log between runs.
type HistoryStore interface {
	LoadHistory(ctx context.Context) ([]chat.Message, error)
	SaveHistory(ctx context.Context, messages []chat.Message) error
}

// Stores bundles the backends of one session.
type Stores struct {
	Summaries contextmgr.SummaryStore
	Facts     contextmgr.FactStore
	Branches  contextmgr.BranchStore
	History   HistoryStore // nil for the memory backend
	Backend   string
	touchFn   func(ctx context.Context, strategy string) error
	closeFn   func(ctx context.Context) error
}

// OpenStores opens the configured backend for session.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	session := cfg.Session
	logger := logx.NewLogger("storage")

	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return &Stores{
			Summaries: state.NewMemorySummaryStore(),
			Facts:     state.NewMemoryFactStore(),
			Branches:  state.NewMemoryBranchStore(),
			Backend:   config.StorageMemory,
		}, nil

	case config.StorageFile:
		store, err := state.NewStore(cfg.Storage.Dir)
		if err != nil {
			return nil, err
		}
		summaries, err := store.Summaries(session)
		if err != nil {
			return nil, err
		}
		facts, err := store.Facts(session)
		if err != nil {
			return nil, err
		}
		branches, err := store.Branches(session)
		if err != nil {
			return nil, err
		}
		history, err := store.History(session)
		if err != nil {
			return nil, err
		}
		logger.Info("using JSON state in %s (session %s)", store.Dir(), session)
		return &Stores{
			Summaries: summaries,
			Facts:     facts,
			Branches:  branches,
			History:   history,
			Backend:   config.StorageFile,
		}, nil

	case config.StorageSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		if err := persistence.Initialize(cfg.Storage.SQLitePath); err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		db := persistence.GetDB()
		if n, err := persistence.MarkStaleSessions(ctx, db); err != nil {
			logger.Warn("failed to mark stale sessions: %v", err)
		} else if n > 0 {
			logger.Warn("%d session(s) did not exit cleanly", n)
		}
		snapshot, err := persistence.ConfigSnapshotToJSON(cfg.Agent)
		if err != nil {
			return nil, err
		}
		if err := persistence.OpenSession(ctx, db, session, cfg.Strategy.Kind, snapshot); err != nil {
			return nil, err
		}

		ops := persistence.Ops(session)
		return &Stores{
			Summaries: ops.Summaries(),
			Facts:     ops.Facts(),
			Branches:  ops.Branches(),
			History:   ops,
			Backend:   config.StorageSQLite,
			touchFn: func(ctx context.Context, strategy string) error {
				return persistence.TouchSession(ctx, db, session, strategy)
			},
			closeFn: func(ctx context.Context) error {
				statusErr := persistence.UpdateSessionStatus(ctx, db, session, persistence.SessionStatusClosed)
				return errors.Join(statusErr, persistence.Close())
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Touch records session activity and the strategy in use. Only the SQLite backend keeps a
// session record.
func (s *Stores) Touch(ctx context.Context, strategy string) error {
	if s == nil || s.touchFn == nil {
		return nil
	}
	return s.touchFn(ctx, strategy)
}

// Close releases the backend.
func (s *Stores) Close(ctx context.Context) error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn(ctx)
}
