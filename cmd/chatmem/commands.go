package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatmemory/internal/factory"
	"chatmemory/pkg/chat"
	"chatmemory/pkg/config"
	"chatmemory/pkg/contextmgr"
	"chatmemory/pkg/logx"
)

// defaultLogLines is how many entries /log prints without an explicit count.
const defaultLogLines = 20

type command struct {
	name  string
	args  string
	help  string
	run   func(a *app, ctx context.Context, args []string) error
	alias []string
}

func commandTable() []command {
	return []command{
		{name: "help", help: "show this help", run: (*app).cmdHelp},
		{name: "history", help: "show the visible conversation", run: (*app).cmdHistory},
		{name: "clear", help: "clear the conversation and the strategy's memory", run: (*app).cmdClear},
		{name: "strategy", args: "[kind]", help: "show or switch the memory strategy", run: (*app).cmdStrategy},
		{name: "summaries", args: "[-v]", help: "show conversation summaries (-v: with original messages)", run: (*app).cmdSummaries},
		{name: "compressed", help: "show messages moved out of the visible window", run: (*app).cmdCompressed},
		{name: "facts", help: "show sticky facts", run: (*app).cmdFacts},
		{name: "refresh", help: "re-extract sticky facts from the conversation", run: (*app).cmdRefresh},
		{name: "checkpoint", help: "save the conversation as a new branch and continue on it", run: (*app).cmdCheckpoint},
		{name: "branches", help: "list dialog branches", run: (*app).cmdBranches},
		{name: "switch", args: "<number|id>", help: "switch to another branch", run: (*app).cmdSwitch},
		{name: "usage", help: "show token usage for this session", run: (*app).cmdUsage},
		{name: "log", args: "[domain] [n]", help: "show recent log entries", run: (*app).cmdLog},
		{name: "quit", help: "save and exit", run: (*app).cmdQuit, alias: []string{"exit"}},
	}
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commandTable() {
		if c.name == name {
			return c, true
		}
		for _, alias := range c.alias {
			if alias == name {
				return c, true
			}
		}
	}
	return command{}, false
}

// command dispatches a slash command line.
func (a *app) command(ctx context.Context, line string) error {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return fmt.Errorf("empty command, try /help")
	}
	c, ok := lookupCommand(strings.ToLower(fields[0]))
	if !ok {
		return fmt.Errorf("unknown command /%s, try /help", fields[0])
	}
	return c.run(a, ctx, fields[1:])
}

func (a *app) cmdHelp(context.Context, []string) error {
	for _, c := range commandTable() {
		usage := "/" + c.name
		if c.args != "" {
			usage += " " + c.args
		}
		a.printf("  %-26s %s\n", usage, c.help)
	}
	return nil
}

func (a *app) cmdQuit(context.Context, []string) error {
	return errQuit
}

func (a *app) cmdHistory(context.Context, []string) error {
	history := a.agent.History()
	if len(history) == 0 {
		a.printf("(empty)\n")
		return nil
	}
	a.printMessages(history, "")
	return nil
}

func (a *app) cmdClear(ctx context.Context, _ []string) error {
	if err := a.agent.ClearHistory(ctx); err != nil {
		return err
	}
	if a.agent.SupportsBranches() {
		if err := a.agent.InitBranches(ctx); err != nil {
			return err
		}
	}
	a.persist(ctx)
	a.printf("Conversation cleared.\n")
	return nil
}

func (a *app) cmdStrategy(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.printf("Active strategy: %s\nAvailable: %s\n", a.agent.Strategy().Name(), strings.Join(factory.Kinds(), ", "))
		return nil
	}

	strategy, err := a.strategies.Build(args[0])
	if err != nil {
		return err
	}
	a.agent.UpdateStrategy(strategy)
	if a.agent.SupportsBranches() {
		if err := a.agent.InitBranches(ctx); err != nil {
			return err
		}
	}
	a.persist(ctx)
	a.printf("Strategy switched to %s.\n", strategy.Name())
	return nil
}

func (a *app) cmdSummaries(ctx context.Context, args []string) error {
	if !a.agent.SupportsSummaries() {
		return unsupported(a, "summaries")
	}
	verbose := len(args) > 0 && args[0] == "-v"

	summaries := a.agent.Summaries(ctx)
	if len(summaries) == 0 {
		a.printf("(no summaries yet)\n")
		return nil
	}
	for i := range summaries {
		s := &summaries[i]
		a.printf("#%d  %s  (%d messages)\n%s\n", i+1, s.CreatedAt.Local().Format(time.DateTime), len(s.OriginalMessages), s.DigestText)
		if verbose {
			a.printMessages(s.OriginalMessages, "    ")
		}
		a.printf("\n")
	}
	return nil
}

func (a *app) cmdCompressed(context.Context, []string) error {
	if _, ok := a.agent.Strategy().(contextmgr.CompressedHolder); !ok {
		return unsupported(a, "compressed messages")
	}
	compressed := a.agent.CompressedMessages()
	if len(compressed) == 0 {
		a.printf("(nothing compressed yet)\n")
		return nil
	}
	a.printMessages(compressed, "")
	return nil
}

func (a *app) cmdFacts(ctx context.Context, _ []string) error {
	if !a.agent.SupportsFacts() {
		return unsupported(a, "facts")
	}
	a.printFacts(a.agent.Facts(ctx))
	return nil
}

func (a *app) cmdRefresh(ctx context.Context, _ []string) error {
	if !a.agent.SupportsFacts() {
		return unsupported(a, "facts")
	}
	facts, err := a.agent.RefreshFacts(ctx)
	if err != nil {
		return err
	}
	a.printf("Facts refreshed (%d).\n", len(facts))
	a.printFacts(facts)
	return nil
}

func (a *app) cmdCheckpoint(ctx context.Context, _ []string) error {
	if !a.agent.SupportsBranches() {
		return unsupported(a, "branches")
	}
	branch, err := a.agent.Checkpoint(ctx)
	if err != nil {
		return err
	}
	a.persist(ctx)
	a.printf("Created %s with %d messages; now continuing on it.\n", branch.Name, len(branch.Messages))
	return nil
}

func (a *app) cmdBranches(ctx context.Context, _ []string) error {
	if !a.agent.SupportsBranches() {
		return unsupported(a, "branches")
	}
	branches, err := a.agent.ListBranches(ctx)
	if err != nil {
		return err
	}
	active, err := a.agent.ActiveBranchID(ctx)
	if err != nil {
		return err
	}
	for i := range branches {
		marker := " "
		if branches[i].ID == active {
			marker = "*"
		}
		a.printf("%s %d. %s  [%s]  %d messages\n", marker, i+1, branches[i].Name, branches[i].ID, len(branches[i].Messages))
	}
	a.printf("(%d of %d branches)\n", len(branches), contextmgr.MaxBranches)
	return nil
}

func (a *app) cmdSwitch(ctx context.Context, args []string) error {
	if !a.agent.SupportsBranches() {
		return unsupported(a, "branches")
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: /switch <number|id>")
	}

	id := args[0]
	if n, err := strconv.Atoi(id); err == nil {
		branches, err := a.agent.ListBranches(ctx)
		if err != nil {
			return err
		}
		if n < 1 || n > len(branches) {
			return fmt.Errorf("no branch number %d (have %d)", n, len(branches))
		}
		id = branches[n-1].ID
	}

	branch, err := a.agent.SwitchBranch(ctx, id)
	if err != nil {
		return err
	}
	a.persist(ctx)
	a.printf("Switched to %s (%d messages).\n", branch.Name, len(branch.Messages))
	return nil
}

func (a *app) cmdUsage(ctx context.Context, _ []string) error {
	model := a.agent.Config().Model
	if usage := a.usage.SessionUsage(a.cfg.Session); usage != nil {
		a.printf("This run: %d requests (%d failed), %d prompt + %d completion = %d tokens, ~$%.4f\n",
			usage.RequestCount, usage.ErrorCount, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens,
			config.CalculateCost(model, int(usage.PromptTokens), int(usage.CompletionTokens)))
	} else {
		a.printf("This run: no requests yet.\n")
	}

	if a.query == nil {
		return nil
	}
	byModel, err := a.query.GetSessionMetricsByModel(ctx, a.cfg.Session)
	if err != nil {
		return fmt.Errorf("query Prometheus: %w", err)
	}
	for _, m := range byModel {
		a.printf("All runs, %s: %d requests, %d prompt + %d completion = %d tokens, ~$%.4f\n",
			m.Model, m.Requests, m.PromptTokens, m.CompletionTokens, m.TotalTokens, m.TotalCost)
	}
	return nil
}

func (a *app) cmdLog(_ context.Context, args []string) error {
	domain := ""
	n := defaultLogLines
	for _, arg := range args {
		if v, err := strconv.Atoi(arg); err == nil && v > 0 {
			n = v
			continue
		}
		domain = arg
	}

	entries := logx.RecentEntries(domain, time.Time{})
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	if len(entries) == 0 {
		a.printf("(no log entries)\n")
		return nil
	}
	for i := range entries {
		e := &entries[i]
		prefix := e.Component
		if e.Domain != "" {
			prefix += "/" + e.Domain
		}
		a.printf("%s %-5s [%s] %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Level, prefix, e.Message)
	}
	return nil
}

func (a *app) printMessages(msgs []chat.Message, indent string) {
	for i := range msgs {
		a.printf("%s[%s] %s: %s\n", indent, msgs[i].Timestamp.Local().Format(time.TimeOnly), msgs[i].Role, msgs[i].Content)
	}
}

func (a *app) printFacts(facts []contextmgr.Fact) {
	if len(facts) == 0 {
		a.printf("(no facts)\n")
		return
	}
	for i := range facts {
		a.printf("  %s: %s\n", facts[i].Key, facts[i].Value)
	}
}

func unsupported(a *app, what string) error {
	return fmt.Errorf("the %s strategy keeps no %s (try /strategy)", a.agent.Strategy().Name(), what)
}
