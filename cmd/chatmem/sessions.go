package main

import (
	"context"
	"fmt"
	"io"

	"chatmemory/internal/factory"
	"chatmemory/pkg/config"
)

// printSessions lists the sessions stored by the configured backend.
func printSessions(ctx context.Context, cfg *config.Config, out io.Writer) error {
	sessions, err := factory.ListSessions(ctx, cfg)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintf(out, "No sessions in %s storage.\n", cfg.Storage.Backend)
		return nil
	}
	for _, s := range sessions {
		marker := " "
		if s.ID == cfg.Session {
			marker = "*"
		}
		if s.Status == "" {
			fmt.Fprintf(out, "%s %s\n", marker, s.ID)
			continue
		}
		fmt.Fprintf(out, "%s %s  %s  %s  last active %s\n", marker, s.ID, s.Status, s.Strategy, s.LastActive)
	}
	return nil
}

// removeSession deletes one session's stored state.
func removeSession(ctx context.Context, cfg *config.Config, session string, out io.Writer) error {
	if err := factory.DeleteSession(ctx, cfg, session); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted session %s.\n", session)
	return nil
}
