package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/agent/llmerrors"
	"chatmemory/pkg/chat"
	"chatmemory/pkg/config"
	"chatmemory/pkg/contextmgr"
	"chatmemory/pkg/logx"
)

// DefaultWindowSize is the sliding window installed when no strategy is given.
const DefaultWindowSize = contextmgr.DefaultWindowSize

// ErrUnsupported is returned when the active strategy lacks the requested capability.
var ErrUnsupported = errors.New("operation not supported by the active strategy")

// Option configures an Agent.
type Option func(*Agent)

// WithStrategy sets the initial truncation strategy.
func WithStrategy(strategy contextmgr.Strategy) Option {
	return func(a *Agent) {
		if strategy != nil {
			a.strategy.Store(&strategyBox{strategy: strategy})
		}
	}
}

// WithLogger sets the agent logger.
func WithLogger(logger *logx.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithSessionID tags every request context with the session id used by logs and metrics.
func WithSessionID(id string) Option {
	return func(a *Agent) {
		if id != "" {
			a.sessionID = id
		}
	}
}

// WithPromptLogger overrides how failed requests are logged.
func WithPromptLogger(pl *PromptLogger) Option {
	return func(a *Agent) {
		a.prompts = pl
	}
}

// strategyBox lets atomic.Pointer hold an interface value.
type strategyBox struct {
	strategy contextmgr.Strategy
}

// Agent orchestrates one chat session: it owns the message log, applies the active strategy and
// talks to the model client. All methods are safe for concurrent use; several turns may be in
// flight at once.
type Agent struct {
	client    llm.LLMClient
	log       *chat.Log
	cfg       atomic.Pointer[config.AgentConfig]
	strategy  atomic.Pointer[strategyBox]
	logger    *logx.Logger
	prompts   *PromptLogger
	sessionID string

	writeMu  sync.Mutex // serializes config and strategy swaps
	branchMu sync.Mutex // serializes branch lifecycle operations
}

// New creates an agent with an empty log. Without WithStrategy, a sliding window of
// DefaultWindowSize is used.
func New(client llm.LLMClient, cfg config.AgentConfig, opts ...Option) (*Agent, error) {
	if client == nil {
		return nil, llmerrors.Configuration("model client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		client:    client,
		log:       chat.NewLog(),
		logger:    logx.NewLogger("agent"),
		sessionID: "default",
	}
	snapshot := cfg.Clone()
	a.cfg.Store(&snapshot)
	a.strategy.Store(&strategyBox{strategy: contextmgr.NewSlidingWindow(DefaultWindowSize)})

	for _, opt := range opts {
		opt(a)
	}
	if a.prompts == nil {
		a.prompts = NewPromptLogger(DefaultPromptLogConfig, a.logger.With("prompt"))
	}
	return a, nil
}

// SessionID returns the session id.
func (a *Agent) SessionID() string {
	return a.sessionID
}

// Config returns a copy of the current configuration snapshot.
func (a *Agent) Config() config.AgentConfig {
	return a.cfg.Load().Clone()
}

// Strategy returns the active strategy.
func (a *Agent) Strategy() contextmgr.Strategy {
	return a.strategy.Load().strategy
}

// UpdateConfig validates cfg and replaces the configuration snapshot wholesale. Turns already in
// flight keep the snapshot they started with.
func (a *Agent) UpdateConfig(cfg config.AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	snapshot := cfg.Clone()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.cfg.Store(&snapshot)
	return nil
}

// UpdateStrategy installs strategy. Nil installs the default sliding window.
func (a *Agent) UpdateStrategy(strategy contextmgr.Strategy) {
	if strategy == nil {
		strategy = contextmgr.NewSlidingWindow(DefaultWindowSize)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.strategy.Store(&strategyBox{strategy: strategy})
	a.logger.Info("strategy switched to %s", strategy.Name())
}

// History returns a copy of the current message log.
func (a *Agent) History() []chat.Message {
	return a.log.Messages()
}

// AddMessage appends msg to the log without calling the model. Truncation applies on the next turn.
func (a *Agent) AddMessage(msg chat.Message) error {
	if !msg.Role.Valid() {
		return llmerrors.Validation("unknown message role %q", msg.Role)
	}
	if msg.IsBlank() {
		return llmerrors.Validation("message must not be blank")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	a.log.Append(msg)
	return nil
}

// RestoreHistory replaces the log with msgs, typically a history persisted by an earlier run.
func (a *Agent) RestoreHistory(msgs []chat.Message) {
	a.log.Replace(msgs)
}

// ClearHistory empties the log and releases the strategy's own state. Truncations in flight are
// discarded when they try to install.
func (a *Agent) ClearHistory(ctx context.Context) error {
	ctx = a.withSession(ctx)
	a.log.Clear()
	if err := a.Strategy().Clear(ctx); err != nil {
		return logx.Wrap(err, "clear strategy state")
	}
	logx.Debug(ctx, "agent", "history cleared")
	return nil
}

// Send streams an answer to text using the configured defaults.
func (a *Agent) Send(ctx context.Context, text string) (<-chan Event, error) {
	return a.Stream(ctx, Request{Message: text})
}

// Chat sends a request and waits for the whole answer. Failures are returned as typed errors.
func (a *Agent) Chat(ctx context.Context, req Request) (*Response, error) {
	events, err := a.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	for ev := range events {
		switch ev.Type {
		case EventComplete:
			resp := &Response{Content: ev.Content, Model: ev.Model, Duration: ev.Duration}
			if ev.Usage != nil {
				resp.Usage = *ev.Usage
			}
			return resp, nil
		case EventError:
			return nil, ev.Err
		case EventDelta:
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, terminalError(err)
	}
	return nil, llmerrors.NewError(llmerrors.ErrorTypeAPI, "stream ended without a result")
}

// Stream validates req, records the user message and starts the model call. Validation errors
// are returned directly; every later failure arrives as a terminal EventError. The caller must
// drain the channel until it is closed or cancel ctx.
func (a *Agent) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	cfg := a.cfg.Load()
	r := resolve(&req, cfg)
	if err := r.validate(); err != nil {
		return nil, err
	}
	ctx = a.withSession(ctx)

	userMsg := chat.NewUserMessage(r.message)
	var history []chat.Message
	if cfg.KeepHistory {
		a.log.Append(userMsg)
		a.truncate(ctx, cfg)
		history = a.log.Messages()
		if !containsMessage(history, userMsg) {
			history = append(history, userMsg)
		}
	} else {
		history = []chat.Message{userMsg}
	}

	extras := a.Strategy().AdditionalSystemMessages(ctx)
	creq := llm.CompletionRequest{
		Messages:    buildOutbound(r.systemPrompt, extras, history),
		Model:       r.model,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
		Stop:        r.stop,
	}
	logx.Debug(ctx, "agent", "sending %d messages (%d history, %d synthesized) to %s",
		len(creq.Messages), len(history), len(extras), r.model)

	events := make(chan Event, 1)
	go a.run(ctx, cfg, &creq, events)
	return events, nil
}

// run forwards the model stream as events and records the answer.
func (a *Agent) run(ctx context.Context, cfg *config.AgentConfig, req *llm.CompletionRequest, events chan<- Event) {
	defer close(events)
	start := time.Now()
	var content strings.Builder

	terminal := func(ev Event) {
		ev.Model = req.Model
		ev.Duration = time.Since(start)
		if ctx.Err() == nil {
			events <- ev
			return
		}
		// The consumer may have stopped reading after cancelling.
		select {
		case events <- ev:
		default:
		}
	}
	fail := func(err error) {
		err = terminalError(err)
		a.prompts.LogFailure(ctx, req, err, time.Since(start))
		a.recordAnswer(ctx, cfg, content.String())
		terminal(Event{Type: EventError, Err: err})
	}
	succeed := func(usage *llm.Usage) {
		text := content.String()
		a.recordAnswer(ctx, cfg, text)
		a.prompts.LogSuccess(ctx, req, len(text), time.Since(start))
		terminal(Event{Type: EventComplete, Content: text, Usage: usage})
	}

	stream, err := a.client.Stream(ctx, *req)
	if err != nil {
		fail(err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			fail(ctx.Err())
			return
		case chunk, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					fail(ctx.Err())
					return
				}
				succeed(nil)
				return
			}
			if chunk.Error != nil {
				fail(chunk.Error)
				return
			}
			if chunk.Content != "" {
				content.WriteString(chunk.Content)
				select {
				case events <- Event{Type: EventDelta, Delta: chunk.Content}:
				case <-ctx.Done():
					fail(ctx.Err())
					return
				}
			}
			if chunk.Done {
				succeed(chunk.Usage)
				return
			}
		}
	}
}

// recordAnswer appends a non-empty assistant answer and re-applies the strategy. It runs even
// after cancellation, so it detaches from ctx's cancellation.
func (a *Agent) recordAnswer(ctx context.Context, cfg *config.AgentConfig, text string) {
	if !cfg.KeepHistory || strings.TrimSpace(text) == "" {
		return
	}
	a.log.Append(chat.NewAssistantMessage(text))
	a.truncate(context.WithoutCancel(ctx), cfg)
}

// truncate applies the active strategy to a snapshot of the log and installs the result, keeping
// messages appended meanwhile. No lock is held while the strategy runs: a result computed from a
// snapshot that a Clear, Replace or another install has superseded is dropped. A strategy failure
// or an unchanged result leaves the log untouched.
func (a *Agent) truncate(ctx context.Context, cfg *config.AgentConfig) {
	snap := a.log.Snapshot()
	if len(snap.Messages) == 0 {
		return
	}
	strategy := a.Strategy()
	out, err := strategy.Truncate(ctx, snap.Messages, limitsFor(cfg))
	if err != nil {
		a.logger.Warn("%s truncation failed, keeping full history: %v", strategy.Name(), err)
		return
	}
	if len(out) == len(snap.Messages) {
		return
	}
	if !a.log.InstallTruncated(snap, out) {
		logx.Debug(ctx, "agent", "log changed during truncation, result dropped")
		return
	}
	logx.Debug(ctx, "agent", "%s kept %d of %d messages", strategy.Name(), len(out), len(snap.Messages))
}

func (a *Agent) withSession(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return logx.WithSessionID(ctx, a.sessionID)
}

// --- capability passthroughs ---

// SupportsSummaries reports whether the active strategy keeps conversation summaries.
func (a *Agent) SupportsSummaries() bool {
	_, ok := a.Strategy().(contextmgr.SummaryHolder)
	return ok
}

// SupportsFacts reports whether the active strategy keeps sticky facts.
func (a *Agent) SupportsFacts() bool {
	_, ok := a.Strategy().(contextmgr.FactHolder)
	return ok
}

// SupportsBranches reports whether the active strategy manages dialog branches.
func (a *Agent) SupportsBranches() bool {
	_, ok := a.Strategy().(contextmgr.BranchManager)
	return ok
}

// Summaries returns the active strategy's summaries, or nil when it keeps none.
func (a *Agent) Summaries(ctx context.Context) []contextmgr.ConversationSummary {
	if holder, ok := a.Strategy().(contextmgr.SummaryHolder); ok {
		return holder.Summaries(a.withSession(ctx))
	}
	return nil
}

// Facts returns the active strategy's sticky facts, or nil when it keeps none.
func (a *Agent) Facts(ctx context.Context) []contextmgr.Fact {
	if holder, ok := a.Strategy().(contextmgr.FactHolder); ok {
		return holder.Facts(a.withSession(ctx))
	}
	return nil
}

// RefreshFacts re-extracts sticky facts from the visible history.
func (a *Agent) RefreshFacts(ctx context.Context) ([]contextmgr.Fact, error) {
	holder, ok := a.Strategy().(contextmgr.FactHolder)
	if !ok {
		return nil, ErrUnsupported
	}
	return holder.RefreshFacts(a.withSession(ctx), a.log.Messages())
}

// CompressedMessages returns messages evicted from the visible history and kept for display,
// or nil when the active strategy keeps none.
func (a *Agent) CompressedMessages() []chat.Message {
	if holder, ok := a.Strategy().(contextmgr.CompressedHolder); ok {
		return holder.CompressedMessages()
	}
	return nil
}

// --- branch lifecycle ---

func (a *Agent) branchManager() (contextmgr.BranchManager, error) {
	manager, ok := a.Strategy().(contextmgr.BranchManager)
	if !ok {
		return nil, ErrUnsupported
	}
	return manager, nil
}

// InitBranches creates the initial branch if none exists.
func (a *Agent) InitBranches(ctx context.Context) error {
	manager, err := a.branchManager()
	if err != nil {
		return err
	}
	a.branchMu.Lock()
	defer a.branchMu.Unlock()
	return manager.EnsureInitialized(a.withSession(ctx))
}

// Checkpoint saves the current conversation as a new branch and makes it active. At the branch
// cap it returns contextmgr.ErrBranchLimit and changes nothing.
func (a *Agent) Checkpoint(ctx context.Context) (*contextmgr.DialogBranch, error) {
	manager, err := a.branchManager()
	if err != nil {
		return nil, err
	}
	ctx = a.withSession(ctx)

	a.branchMu.Lock()
	defer a.branchMu.Unlock()
	branch, err := manager.CreateCheckpoint(ctx, a.log.Messages(), a.Summaries(ctx))
	if err != nil {
		return nil, err
	}
	a.logger.Info("checkpoint %s created (%d messages)", branch.Name, len(branch.Messages))
	return branch, nil
}

// SwitchBranch saves the current conversation into the active branch, then replaces the log
// with branch id's history and restores its summaries.
func (a *Agent) SwitchBranch(ctx context.Context, id string) (*contextmgr.DialogBranch, error) {
	manager, err := a.branchManager()
	if err != nil {
		return nil, err
	}
	ctx = a.withSession(ctx)

	a.branchMu.Lock()
	defer a.branchMu.Unlock()

	branch, err := manager.SwitchToBranch(ctx, id, a.log.Messages(), a.Summaries(ctx))
	if err != nil {
		return nil, err
	}
	a.log.Replace(branch.Messages)
	if holder, ok := a.Strategy().(contextmgr.SummaryHolder); ok {
		if err := holder.RestoreSummaries(ctx, branch.Summaries); err != nil {
			a.logger.Warn("restore summaries for branch %s: %v", branch.ID, err)
		}
	}
	a.logger.Info("switched to %s (%d messages)", branch.Name, len(branch.Messages))
	return branch, nil
}

// ListBranches returns all branches in creation order.
func (a *Agent) ListBranches(ctx context.Context) ([]contextmgr.DialogBranch, error) {
	manager, err := a.branchManager()
	if err != nil {
		return nil, err
	}
	return manager.Branches(a.withSession(ctx))
}

// ActiveBranchID returns the id of the active branch.
func (a *Agent) ActiveBranchID(ctx context.Context) (string, error) {
	manager, err := a.branchManager()
	if err != nil {
		return "", err
	}
	return manager.ActiveBranchID(a.withSession(ctx))
}

// --- helpers ---

func limitsFor(cfg *config.AgentConfig) contextmgr.Limits {
	var limits contextmgr.Limits
	if cfg.MaxHistoryMessages != nil {
		limits.MaxMessages = *cfg.MaxHistoryMessages
	}
	if cfg.MaxContextTokens != nil {
		limits.MaxTokens = *cfg.MaxContextTokens
	}
	return limits
}

// buildOutbound orders the payload: system prompt, synthesized context, history.
func buildOutbound(systemPrompt string, extras, history []chat.Message) []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, 0, len(extras)+len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		out = append(out, llm.NewSystemMessage(systemPrompt))
	}
	for i := range extras {
		out = append(out, toCompletion(&extras[i]))
	}
	for i := range history {
		out = append(out, toCompletion(&history[i]))
	}
	return out
}

func toCompletion(msg *chat.Message) llm.CompletionMessage {
	return llm.CompletionMessage{Role: llm.CompletionRole(msg.Role), Content: msg.Content}
}

func containsMessage(msgs []chat.Message, target chat.Message) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] == target {
			return true
		}
	}
	return false
}

// terminalError types a stream failure. Caller cancellation is reported as is.
func terminalError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return llmerrors.Classify(err)
}
