package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmemory/internal/mocks"
	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/agent/llmerrors"
	"chatmemory/pkg/chat"
	"chatmemory/pkg/config"
	"chatmemory/pkg/contextmgr"
	"chatmemory/pkg/state"
)

func testConfig() config.AgentConfig {
	return config.AgentConfig{
		Model:       "mock-model",
		Temperature: config.Float64(0.5),
		MaxTokens:   config.Int(256),
		KeepHistory: true,
	}
}

func newTestAgent(t *testing.T, client llm.LLMClient, cfg config.AgentConfig, opts ...Option) *Agent {
	t.Helper()
	a, err := New(client, cfg, opts...)
	require.NoError(t, err)
	return a
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
			return out
		}
	}
}

func roles(msgs []llm.CompletionMessage) []llm.CompletionRole {
	out := make([]llm.CompletionRole, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Role
	}
	return out
}

func historyContents(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Content
	}
	return out
}

func TestNewRejectsMissingClientAndBadConfig(t *testing.T) {
	_, err := New(nil, testConfig())
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeConfiguration))

	cfg := testConfig()
	cfg.Model = " "
	_, err = New(mocks.NewMockLLMClient(), cfg)
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeValidation))

	a := newTestAgent(t, mocks.NewMockLLMClient(), testConfig())
	assert.Equal(t, contextmgr.KindSlidingWindow, a.Strategy().Name())
	assert.Equal(t, "default", a.SessionID())
}

func TestInvalidRequestsFailBeforeAnyCall(t *testing.T) {
	client := mocks.NewMockLLMClient()
	a := newTestAgent(t, client, testConfig())

	tests := []struct {
		name string
		req  Request
	}{
		{"blank message", Request{Message: "   "}},
		{"temperature too high", Request{Message: "hi", Temperature: llm.Float64(2.5)}},
		{"negative temperature", Request{Message: "hi", Temperature: llm.Float64(-0.1)}},
		{"NaN temperature", Request{Message: "hi", Temperature: llm.Float64(math.NaN())}},
		{"zero max tokens", Request{Message: "hi", MaxTokens: llm.Int(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := a.Stream(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, events)
			assert.Equal(t, llmerrors.ErrorTypeValidation, llmerrors.TypeOf(err))
		})
	}

	assert.Zero(t, client.GetStreamCallCount())
	assert.Empty(t, a.History(), "rejected requests must not touch the log")
}

func TestChatRecordsTurn(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWith("Hello back")
	a := newTestAgent(t, client, testConfig())

	resp, err := a.Chat(context.Background(), Request{Message: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hello back", resp.Content)
	assert.Equal(t, "mock-model", resp.Model)
	assert.Positive(t, resp.Usage.Total())

	assert.Equal(t, []string{"Hello", "Hello back"}, historyContents(a.History()))
	assert.Equal(t, chat.RoleUser, a.History()[0].Role)
	assert.Equal(t, chat.RoleAssistant, a.History()[1].Role)

	call := client.LastStreamCall()
	require.NotNil(t, call)
	assert.Equal(t, "mock-model", call.Model)
	require.NotNil(t, call.Temperature)
	assert.InDelta(t, 0.5, *call.Temperature, 1e-9)
	require.NotNil(t, call.MaxTokens)
	assert.Equal(t, 256, *call.MaxTokens)
}

func TestRequestOverridesConfig(t *testing.T) {
	client := mocks.NewMockLLMClient()
	cfg := testConfig()
	cfg.SystemPrompt = "configured prompt"
	cfg.StopSequences = []string{"END"}
	a := newTestAgent(t, client, cfg)

	_, err := a.Chat(context.Background(), Request{
		Message:      "hi",
		Model:        "other-model",
		Temperature:  llm.Float64(1.5),
		MaxTokens:    llm.Int(10),
		SystemPrompt: ptr("override prompt"),
		Stop:         []string{"STOP"},
	})
	require.NoError(t, err)

	call := client.LastStreamCall()
	assert.Equal(t, "other-model", call.Model)
	assert.InDelta(t, 1.5, *call.Temperature, 1e-9)
	assert.Equal(t, 10, *call.MaxTokens)
	assert.Equal(t, []string{"STOP"}, call.Stop)
	assert.Equal(t, "override prompt", call.Messages[0].Content)

	_, err = a.Chat(context.Background(), Request{Message: "again"})
	require.NoError(t, err)
	call = client.LastStreamCall()
	assert.Equal(t, "mock-model", call.Model)
	assert.Equal(t, []string{"END"}, call.Stop)
	assert.Equal(t, "configured prompt", call.Messages[0].Content)
}

func ptr(s string) *string { return &s }

func TestOutboundOrderSystemPromptThenContextThenHistory(t *testing.T) {
	client := mocks.NewMockLLMClient()
	cfg := testConfig()
	cfg.SystemPrompt = "You are terse."

	extractor := contextmgr.FactExtractorFunc(func(context.Context, []contextmgr.Fact, []chat.Message) (string, error) {
		return "name: Ada\ngoal: learn go", nil
	})
	strategy := contextmgr.NewStickyFacts(10, extractor, state.NewMemoryFactStore())
	a := newTestAgent(t, client, cfg, WithStrategy(strategy))

	require.NoError(t, a.AddMessage(chat.NewUserMessage("I'm Ada")))
	require.NoError(t, a.AddMessage(chat.NewAssistantMessage("Hi Ada")))
	facts, err := a.RefreshFacts(context.Background())
	require.NoError(t, err)
	require.Len(t, facts, 2)

	_, err = a.Chat(context.Background(), Request{Message: "What is my goal?"})
	require.NoError(t, err)

	msgs := client.LastStreamCallMessages()
	require.Len(t, msgs, 5)
	assert.Equal(t, []llm.CompletionRole{
		llm.RoleSystem, llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser,
	}, roles(msgs))
	assert.Equal(t, "You are terse.", msgs[0].Content)
	assert.True(t, strings.HasPrefix(msgs[1].Content, contextmgr.FactsHeader))
	assert.Contains(t, msgs[1].Content, "name: Ada")
	assert.Equal(t, "What is my goal?", msgs[4].Content)
}

func TestSlidingWindowBoundsHistory(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWith("ok")
	a := newTestAgent(t, client, testConfig(), WithStrategy(contextmgr.NewSlidingWindow(4)))

	for i := 0; i < 5; i++ {
		_, err := a.Chat(context.Background(), Request{Message: fmt.Sprintf("question %d", i)})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(client.LastStreamCallMessages()), 4)
		assert.LessOrEqual(t, len(a.History()), 4)
	}

	assert.Equal(t, []string{"question 3", "ok", "question 4", "ok"}, historyContents(a.History()))
}

func TestMaxHistoryMessagesLimitsStrategy(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWith("ok")
	cfg := testConfig()
	cfg.MaxHistoryMessages = config.Int(3)
	a := newTestAgent(t, client, cfg, WithStrategy(contextmgr.NewSlidingWindow(10)))

	for i := 0; i < 3; i++ {
		_, err := a.Chat(context.Background(), Request{Message: fmt.Sprintf("q%d", i)})
		require.NoError(t, err)
	}
	assert.Len(t, a.History(), 3)
	assert.Equal(t, "q2", client.LastStreamCallMessages()[len(client.LastStreamCallMessages())-1].Content)
}

func TestKeepHistoryFalseSendsOnlyCurrentMessage(t *testing.T) {
	client := mocks.NewMockLLMClient()
	cfg := testConfig()
	cfg.KeepHistory = false
	a := newTestAgent(t, client, cfg)

	require.NoError(t, a.AddMessage(chat.NewUserMessage("earlier")))
	_, err := a.Chat(context.Background(), Request{Message: "now"})
	require.NoError(t, err)

	msgs := client.LastStreamCallMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "now", msgs[0].Content)
	assert.Equal(t, []string{"earlier"}, historyContents(a.History()), "nothing is appended without keepHistory")
}

func TestStreamDeliversDeltasInOrder(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.StreamContent("abcdefg", 2)
	a := newTestAgent(t, client, testConfig())

	events, err := a.Send(context.Background(), "spell")
	require.NoError(t, err)
	got := drain(t, events)

	require.Len(t, got, 5)
	var deltas []string
	for _, ev := range got[:4] {
		assert.Equal(t, EventDelta, ev.Type)
		deltas = append(deltas, ev.Delta)
	}
	assert.Equal(t, []string{"ab", "cd", "ef", "g"}, deltas)

	last := got[4]
	assert.Equal(t, EventComplete, last.Type)
	assert.Equal(t, "abcdefg", last.Content)
	require.NotNil(t, last.Usage)
	assert.Equal(t, "complete", last.Type.String())
}

func TestStreamErrorKeepsPartialAnswer(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.StreamWithError("partial answer", errors.New("connection reset"))
	a := newTestAgent(t, client, testConfig())

	events, err := a.Send(context.Background(), "tell me")
	require.NoError(t, err)
	got := drain(t, events)

	require.Len(t, got, 2)
	assert.Equal(t, EventDelta, got[0].Type)
	assert.Equal(t, EventError, got[1].Type)
	assert.Equal(t, llmerrors.ErrorTypeAPI, llmerrors.TypeOf(got[1].Err))

	assert.Equal(t, []string{"tell me", "partial answer"}, historyContents(a.History()))
}

func TestFailureBeforeStreamingAppendsNothingButUserMessage(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.FailStreamWith(llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAPI, 503, "overloaded"))
	a := newTestAgent(t, client, testConfig())

	_, err := a.Chat(context.Background(), Request{Message: "hello"})
	require.Error(t, err)
	var llmErr *llmerrors.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, 503, llmErr.StatusCode)

	assert.Equal(t, []string{"hello"}, historyContents(a.History()))
}

func TestCancellationKeepsNonEmptyPartial(t *testing.T) {
	client := mocks.NewMockLLMClient()
	started := client.StreamThenBlock("half an ans")
	a := newTestAgent(t, client, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := a.Send(ctx, "long question")
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, EventDelta, first.Type)
	<-started
	cancel()

	rest := drain(t, events)
	require.NotEmpty(t, rest)
	last := rest[len(rest)-1]
	assert.Equal(t, EventError, last.Type)
	assert.ErrorIs(t, last.Err, context.Canceled)

	assert.Equal(t, []string{"long question", "half an ans"}, historyContents(a.History()))
}

func TestCancellationWithoutOutputAppendsNoAnswer(t *testing.T) {
	client := mocks.NewMockLLMClient()
	started := client.StreamThenBlock("")
	a := newTestAgent(t, client, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	events, err := a.Send(ctx, "question")
	require.NoError(t, err)
	<-started
	cancel()
	drain(t, events)

	assert.Equal(t, []string{"question"}, historyContents(a.History()))
}

func TestDeadlineIsReportedAsTimeout(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.StreamThenBlock("")
	a := newTestAgent(t, client, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Chat(ctx, Request{Message: "slow"})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeTimeout), "got %v", err)
}

func TestUpdateConfigReplacesSnapshot(t *testing.T) {
	client := mocks.NewMockLLMClient()
	a := newTestAgent(t, client, testConfig())

	bad := testConfig()
	bad.Temperature = config.Float64(9)
	require.Error(t, a.UpdateConfig(bad))
	bad.Temperature = config.Float64(math.NaN())
	require.Error(t, a.UpdateConfig(bad))
	assert.Equal(t, "mock-model", a.Config().Model)

	next := testConfig()
	next.Model = "second-model"
	next.SystemPrompt = "new prompt"
	require.NoError(t, a.UpdateConfig(next))
	next.Model = "mutated after update"

	snapshot := a.Config()
	assert.Equal(t, "second-model", snapshot.Model)
	*snapshot.Temperature = 1.9
	assert.InDelta(t, 0.5, *a.Config().Temperature, 1e-9, "Config must return a copy")

	_, err := a.Chat(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	call := client.LastStreamCall()
	assert.Equal(t, "second-model", call.Model)
	assert.Equal(t, "new prompt", call.Messages[0].Content)
}

func TestUpdateStrategy(t *testing.T) {
	a := newTestAgent(t, mocks.NewMockLLMClient(), testConfig())

	a.UpdateStrategy(contextmgr.NewPreserveSystem())
	assert.Equal(t, contextmgr.KindPreserveSystem, a.Strategy().Name())
	assert.False(t, a.SupportsBranches())

	a.UpdateStrategy(nil)
	assert.Equal(t, contextmgr.KindSlidingWindow, a.Strategy().Name())
	sw, ok := a.Strategy().(*contextmgr.SlidingWindow)
	require.True(t, ok)
	assert.Equal(t, DefaultWindowSize, sw.WindowSize())
}

func TestAddMessageValidation(t *testing.T) {
	a := newTestAgent(t, mocks.NewMockLLMClient(), testConfig())

	err := a.AddMessage(chat.Message{Role: "narrator", Content: "x"})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeValidation))
	err = a.AddMessage(chat.Message{Role: chat.RoleUser, Content: " \n"})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeValidation))

	require.NoError(t, a.AddMessage(chat.Message{Role: chat.RoleSystem, Content: "rules"}))
	history := a.History()
	require.Len(t, history, 1)
	assert.False(t, history[0].Timestamp.IsZero(), "missing timestamps are stamped")
}

func TestRestoreHistory(t *testing.T) {
	a := newTestAgent(t, mocks.NewMockLLMClient(), testConfig())
	require.NoError(t, a.AddMessage(chat.NewUserMessage("old")))

	a.RestoreHistory([]chat.Message{chat.NewUserMessage("a"), chat.NewAssistantMessage("b")})
	assert.Equal(t, []string{"a", "b"}, historyContents(a.History()))
}

func TestClearHistoryReleasesStrategyState(t *testing.T) {
	store := state.NewMemoryFactStore()
	extractor := contextmgr.FactExtractorFunc(func(context.Context, []contextmgr.Fact, []chat.Message) (string, error) {
		return "city: Paris", nil
	})
	a := newTestAgent(t, mocks.NewMockLLMClient(), testConfig(),
		WithStrategy(contextmgr.NewStickyFacts(5, extractor, store)))

	_, err := a.Chat(context.Background(), Request{Message: "I live in Paris"})
	require.NoError(t, err)
	_, err = a.RefreshFacts(context.Background())
	require.NoError(t, err)
	require.Len(t, a.Facts(context.Background()), 1)

	require.NoError(t, a.ClearHistory(context.Background()))
	assert.Empty(t, a.History())
	assert.Empty(t, a.Facts(context.Background()))
	persisted, _ := store.All(context.Background())
	assert.Empty(t, persisted)
}

func TestCapabilityPassthroughsWithoutSupport(t *testing.T) {
	a := newTestAgent(t, mocks.NewMockLLMClient(), testConfig())
	ctx := context.Background()

	assert.False(t, a.SupportsSummaries())
	assert.False(t, a.SupportsFacts())
	assert.Nil(t, a.Summaries(ctx))
	assert.Nil(t, a.Facts(ctx))
	assert.Nil(t, a.CompressedMessages())

	_, err := a.RefreshFacts(ctx)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, a.InitBranches(ctx), ErrUnsupported)
	_, err = a.Checkpoint(ctx)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = a.SwitchBranch(ctx, "x")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = a.ListBranches(ctx)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = a.ActiveBranchID(ctx)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestStickyFactsCompressedMessages(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWith("ok")
	a := newTestAgent(t, client, testConfig(),
		WithStrategy(contextmgr.NewStickyFacts(2, nil, nil)))

	for i := 0; i < 3; i++ {
		_, err := a.Chat(context.Background(), Request{Message: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"m2", "ok"}, historyContents(a.History()))
	assert.Equal(t, []string{"m0", "ok", "m1", "ok"}, historyContents(a.CompressedMessages()))
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("b%d", n)
	}
}

func TestBranchLifecycle(t *testing.T) {
	ctx := context.Background()
	client := mocks.NewMockLLMClient()
	client.RespondWith("ok")
	store := state.NewMemoryBranchStore()
	a := newTestAgent(t, client, testConfig(),
		WithStrategy(contextmgr.NewBranching(store, contextmgr.WithIDGenerator(sequentialIDs()))))

	require.True(t, a.SupportsBranches())
	require.NoError(t, a.InitBranches(ctx))
	require.NoError(t, a.InitBranches(ctx), "initialization is idempotent")
	active, err := a.ActiveBranchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b1", active)

	_, err = a.Chat(ctx, Request{Message: "shared start"})
	require.NoError(t, err)

	branch, err := a.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b2", branch.ID)
	assert.Len(t, branch.Messages, 2)

	_, err = a.Chat(ctx, Request{Message: "only on b2"})
	require.NoError(t, err)
	require.Len(t, a.History(), 4)

	switched, err := a.SwitchBranch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", switched.ID)
	assert.Equal(t, []string{"shared start", "ok"}, historyContents(a.History()))

	_, err = a.SwitchBranch(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared start", "ok", "only on b2", "ok"}, historyContents(a.History()))

	_, err = a.SwitchBranch(ctx, "missing")
	assert.ErrorIs(t, err, contextmgr.ErrBranchNotFound)
	assert.Len(t, a.History(), 4, "failed switch leaves the log alone")

	for i := 0; i < contextmgr.MaxBranches-2; i++ {
		_, err = a.Checkpoint(ctx)
		require.NoError(t, err)
	}
	_, err = a.Checkpoint(ctx)
	assert.ErrorIs(t, err, contextmgr.ErrBranchLimit)

	branches, err := a.ListBranches(ctx)
	require.NoError(t, err)
	assert.Len(t, branches, contextmgr.MaxBranches)

	persisted, _ := store.All(ctx)
	assert.Len(t, persisted, contextmgr.MaxBranches)
}

func TestSummaryCompressionOutbound(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWith("answer")

	var summarized []chat.Message
	summarizer := contextmgr.SummarizerFunc(func(_ context.Context, msgs []chat.Message) (string, error) {
		summarized = msgs
		return "the user counted to fourteen", nil
	})
	strategy := contextmgr.NewSummaryCompression(5, 10, summarizer, state.NewMemorySummaryStore())
	a := newTestAgent(t, client, testConfig(), WithStrategy(strategy))

	for i := 1; i <= 14; i++ {
		role := chat.RoleUser
		if i%2 == 0 {
			role = chat.RoleAssistant
		}
		require.NoError(t, a.AddMessage(chat.NewMessage(role, fmt.Sprintf("msg %d", i))))
	}

	_, err := a.Chat(context.Background(), Request{Message: "msg 15"})
	require.NoError(t, err)

	require.Len(t, summarized, 10)
	assert.Equal(t, "msg 1", summarized[0].Content)

	msgs := client.LastStreamCallMessages()
	require.Len(t, msgs, 6)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, contextmgr.SummaryHeader)
	assert.Contains(t, msgs[0].Content, "the user counted to fourteen")
	var recent []string
	for _, m := range msgs[1:] {
		recent = append(recent, m.Content)
	}
	assert.Equal(t, []string{"msg 11", "msg 12", "msg 13", "msg 14", "msg 15"}, recent)
	for i := 1; i <= 10; i++ {
		assert.NotContains(t, msgs[0].Content, fmt.Sprintf("msg %d", i))
	}

	summaries := a.Summaries(context.Background())
	require.Len(t, summaries, 1)
	assert.Len(t, summaries[0].OriginalMessages, 10)
	assert.True(t, a.SupportsSummaries())
}

func waitFor(t *testing.T, what string, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s blocked behind an in-flight summarization", what)
	}
}

func TestSlowSummarizerDoesNotBlockOtherOperations(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWith("answer")

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var summarizeCalls int32
	summarizer := contextmgr.SummarizerFunc(func(ctx context.Context, _ []chat.Message) (string, error) {
		atomic.AddInt32(&summarizeCalls, 1)
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "digest of the seeded turns", nil
	})
	strategy := contextmgr.NewSummaryCompression(5, 10, summarizer, state.NewMemorySummaryStore())
	a := newTestAgent(t, client, testConfig(), WithStrategy(strategy))
	for i := 1; i <= 14; i++ {
		require.NoError(t, a.AddMessage(chat.NewUserMessage(fmt.Sprintf("seed %d", i))))
	}

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, err := a.Chat(context.Background(), Request{Message: "trigger"})
		assert.NoError(t, err)
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("summarizer was never called")
	}

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, err := a.Chat(context.Background(), Request{Message: "unrelated"})
		assert.NoError(t, err)
	}()
	waitFor(t, "second turn", secondDone)
	assert.Equal(t, 1, client.GetStreamCallCount())

	clearDone := make(chan struct{})
	go func() {
		defer close(clearDone)
		assert.NoError(t, a.ClearHistory(context.Background()))
	}()
	waitFor(t, "ClearHistory", clearDone)

	close(release)
	waitFor(t, "first turn", firstDone)

	assert.Equal(t, int32(1), atomic.LoadInt32(&summarizeCalls), "the block is summarized once")
	assert.Empty(t, a.Summaries(context.Background()), "digest computed before the clear is discarded")
	for _, m := range a.History() {
		assert.NotContains(t, m.Content, "seed")
	}
}

func TestConcurrentTurnsKeepEveryMessage(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWith("ok")
	a := newTestAgent(t, client, testConfig(), WithStrategy(contextmgr.NewSlidingWindow(100)))

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.Chat(context.Background(), Request{Message: fmt.Sprintf("q%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history := a.History()
	assert.Len(t, history, 2*turns)
	seen := map[string]bool{}
	for _, m := range history {
		if m.Role == chat.RoleUser {
			seen[m.Content] = true
		}
	}
	assert.Len(t, seen, turns)
	assert.Equal(t, turns, client.GetStreamCallCount())
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "delta", EventDelta.String())
	assert.Equal(t, "error", EventError.String())
	assert.Equal(t, "unknown", EventType(42).String())
}
