package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"chatmemory/internal/factory"
	"chatmemory/pkg/agent"
	"chatmemory/pkg/agent/llm"
	agentmetrics "chatmemory/pkg/agent/middleware/metrics"
	"chatmemory/pkg/config"
	"chatmemory/pkg/logx"
	"chatmemory/pkg/metrics"
	"chatmemory/pkg/version"
)

// errQuit ends the REPL.
var errQuit = errors.New("quit")

// app is one interactive session.
type app struct {
	cfg        *config.Config
	agent      *agent.Agent
	stores     *factory.Stores
	strategies *factory.StrategyFactory
	usage      *agentmetrics.InternalRecorder
	query      *metrics.QueryService // nil unless a Prometheus server is configured
	server     *http.Server          // nil unless /metrics is served
	out        io.Writer
	logger     *logx.Logger
}

// start builds the configured strategy and the agent, then restores the persisted history.
func (a *app) start(ctx context.Context, client llm.LLMClient) error {
	strategy, err := a.strategies.Build(a.cfg.Strategy.Kind)
	if err != nil {
		return err
	}
	ag, err := agent.New(client, a.cfg.Agent,
		agent.WithStrategy(strategy),
		agent.WithSessionID(a.cfg.Session),
	)
	if err != nil {
		return err
	}
	a.agent = ag

	if ag.SupportsBranches() {
		if err := ag.InitBranches(ctx); err != nil {
			return fmt.Errorf("initialize branches: %w", err)
		}
	}

	if a.stores.History == nil {
		return nil
	}
	history, err := a.stores.History.LoadHistory(ctx)
	if err != nil {
		a.logger.Warn("failed to restore history, starting empty: %v", err)
		return nil
	}
	if len(history) > 0 {
		ag.RestoreHistory(history)
		a.logger.Info("restored %d messages for session %s", len(history), a.cfg.Session)
	}
	return nil
}

// close saves the history and releases the stores and the metrics server.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.agent != nil && a.stores.History != nil {
		if err := a.stores.History.SaveHistory(ctx, a.agent.History()); err != nil {
			errs = append(errs, fmt.Errorf("save history: %w", err))
		}
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	if err := a.stores.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close stores: %w", err))
	}
	return errors.Join(errs...)
}

// repl reads lines from in until EOF, /quit or ctx cancellation.
func (a *app) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	a.printf("chatmem %s | session %s | model %s | strategy %s\n",
		version.Version, a.cfg.Session, a.agent.Config().Model, a.agent.Strategy().Name())
	a.printf("Type a message, or /help for commands.\n")

	for ctx.Err() == nil {
		a.printf("> ")
		if !scanner.Scan() {
			a.printf("\n")
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			err := a.command(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				a.printf("error: %v\n", err)
			}
		default:
			a.turn(ctx, line)
		}
	}
	return scanner.Err()
}

// turn streams one answer. Ctrl-C interrupts the answer, not the program.
func (a *app) turn(ctx context.Context, text string) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	events, err := a.agent.Send(turnCtx, text)
	if err != nil {
		a.printf("error: %v\n", err)
		return
	}
	for ev := range events {
		switch ev.Type {
		case agent.EventDelta:
			a.printf("%s", ev.Delta)
		case agent.EventComplete:
			a.printf("\n")
			if ev.Usage != nil {
				logx.Debug(turnCtx, "chatmem", "turn used %d+%d tokens in %s",
					ev.Usage.InputTokens, ev.Usage.OutputTokens, ev.Duration)
			}
		case agent.EventError:
			if errors.Is(ev.Err, context.Canceled) {
				a.printf("\n(interrupted)\n")
			} else {
				a.printf("\nerror: %v\n", ev.Err)
			}
		}
	}
	a.persist(ctx)
}

// persist writes the visible history and records session activity. Failures are logged only.
func (a *app) persist(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if a.stores.History != nil {
		if err := a.stores.History.SaveHistory(ctx, a.agent.History()); err != nil {
			a.logger.Warn("failed to save history: %v", err)
		}
	}
	if err := a.stores.Touch(ctx, a.agent.Strategy().Name()); err != nil {
		a.logger.Warn("failed to record session activity: %v", err)
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
