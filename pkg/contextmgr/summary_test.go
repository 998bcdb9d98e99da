package contextmgr

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmemory/pkg/chat"
)

func fixedSummarizer(digest string, calls *int32) Summarizer {
	return SummarizerFunc(func(_ context.Context, msgs []chat.Message) (string, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return digest, nil
	})
}

func TestSummaryCompressionCompressesOldBlock(t *testing.T) {
	ctx := context.Background()
	store := &fakeSummaryStore{}
	s := NewSummaryCompression(5, 10, fixedSummarizer("user greeted and discussed ten things", nil), store)

	input := conversation(15)
	out, err := s.Truncate(ctx, input, Limits{})
	require.NoError(t, err)

	require.Len(t, out, 5)
	assert.Equal(t, contents(input[10:]), contents(out))

	summaries := s.Summaries(ctx)
	require.Len(t, summaries, 1)
	require.Len(t, summaries[0].OriginalMessages, 10)
	assert.Equal(t, input[:10], summaries[0].OriginalMessages)
	assert.Equal(t, "user greeted and discussed ten things", summaries[0].DigestText)

	require.Len(t, store.summaries, 1, "summary must be persisted")

	extra := s.AdditionalSystemMessages(ctx)
	require.Len(t, extra, 1)
	assert.Equal(t, chat.RoleSystem, extra[0].Role)
	assert.Contains(t, extra[0].Content, "user greeted and discussed ten things")
	assert.NotContains(t, extra[0].Content, "[Part")
	for _, original := range input[:10] {
		assert.NotContains(t, extra[0].Content, original.Content)
	}
}

func TestSummaryCompressionBelowBlockSizeTrimsNormally(t *testing.T) {
	var calls int32
	s := NewSummaryCompression(5, 10, fixedSummarizer("digest", &calls), nil)

	out, err := s.Truncate(context.Background(), conversation(12), Limits{MaxMessages: 8})
	require.NoError(t, err)

	assert.Len(t, out, 8)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Empty(t, s.Summaries(context.Background()))
	assert.Nil(t, s.AdditionalSystemMessages(context.Background()))
}

func TestSummaryCompressionLimitsRecentWindow(t *testing.T) {
	s := NewSummaryCompression(5, 10, fixedSummarizer("digest", nil), nil)

	out, err := s.Truncate(context.Background(), conversation(15), Limits{MaxMessages: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"message 12", "message 13", "message 14"}, contents(out))
}

func TestSummaryCompressionLabelsMultipleParts(t *testing.T) {
	ctx := context.Background()
	digests := []string{"first digest", "second digest"}
	var n int32
	summarizer := SummarizerFunc(func(context.Context, []chat.Message) (string, error) {
		i := atomic.AddInt32(&n, 1) - 1
		return digests[i], nil
	})
	s := NewSummaryCompression(2, 3, summarizer, nil)

	out, err := s.Truncate(ctx, conversation(5), Limits{})
	require.NoError(t, err)
	require.Len(t, out, 2)

	next := append(out, conversation(3)...)
	_, err = s.Truncate(ctx, next, Limits{})
	require.NoError(t, err)

	extra := s.AdditionalSystemMessages(ctx)
	require.Len(t, extra, 1)
	body := extra[0].Content
	assert.Contains(t, body, "[Part 1]\nfirst digest")
	assert.Contains(t, body, "[Part 2]\nsecond digest")
	assert.Less(t, strings.Index(body, "first digest"), strings.Index(body, "second digest"))
}

func TestSummaryCompressionSummarizerFailureFallsBack(t *testing.T) {
	failing := SummarizerFunc(func(context.Context, []chat.Message) (string, error) {
		return "", errors.New("model offline")
	})
	s := NewSummaryCompression(5, 10, failing, nil)

	out, err := s.Truncate(context.Background(), conversation(15), Limits{MaxMessages: 12})
	require.NoError(t, err)
	assert.Len(t, out, 12)
	assert.Empty(t, s.Summaries(context.Background()))
}

func TestSummaryCompressionEmptyDigestFallsBack(t *testing.T) {
	s := NewSummaryCompression(5, 10, fixedSummarizer("   ", nil), nil)

	out, err := s.Truncate(context.Background(), conversation(15), Limits{})
	require.NoError(t, err)
	assert.Len(t, out, 15)
	assert.Empty(t, s.Summaries(context.Background()))
}

func TestSummaryCompressionCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	summarizer := SummarizerFunc(func(ctx context.Context, _ []chat.Message) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	s := NewSummaryCompression(5, 10, summarizer, nil)

	_, err := s.Truncate(ctx, conversation(15), Limits{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// blockingSummarizer signals started and waits for release before answering.
func blockingSummarizer(started chan<- struct{}, release <-chan struct{}, calls *int32) Summarizer {
	return SummarizerFunc(func(ctx context.Context, _ []chat.Message) (string, error) {
		atomic.AddInt32(calls, 1)
		started <- struct{}{}
		select {
		case <-release:
			return "late digest", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

func TestSummaryCompressionSummarizesOneBlockAtATime(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls int32
	s := NewSummaryCompression(5, 10, blockingSummarizer(started, release, &calls), nil)

	input := conversation(15)
	done := make(chan []chat.Message, 1)
	go func() {
		out, err := s.Truncate(ctx, input, Limits{})
		assert.NoError(t, err)
		done <- out
	}()
	<-started

	out, err := s.Truncate(ctx, conversation(16), Limits{})
	require.NoError(t, err)
	assert.Len(t, out, 16, "concurrent call leaves messages unchanged")

	close(release)
	first := <-done
	assert.Equal(t, contents(input[10:]), contents(first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Len(t, s.Summaries(ctx), 1)
}

func TestSummaryCompressionDiscardsDigestAfterClear(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls int32
	store := &fakeSummaryStore{}
	s := NewSummaryCompression(5, 10, blockingSummarizer(started, release, &calls), store)

	input := conversation(15)
	done := make(chan []chat.Message, 1)
	go func() {
		out, err := s.Truncate(ctx, input, Limits{})
		assert.NoError(t, err)
		done <- out
	}()
	<-started

	require.NoError(t, s.Clear(ctx))
	close(release)

	out := <-done
	assert.Len(t, out, len(input))
	assert.Empty(t, s.Summaries(ctx))
	assert.Empty(t, store.summaries)
}

func TestSummaryCompressionStoreFailureKeepsSessionState(t *testing.T) {
	ctx := context.Background()
	store := &fakeSummaryStore{fail: true}
	s := NewSummaryCompression(5, 10, fixedSummarizer("digest survives", nil), store)

	out, err := s.Truncate(ctx, conversation(15), Limits{})
	require.NoError(t, err)
	assert.Len(t, out, 5)

	extra := s.AdditionalSystemMessages(ctx)
	require.Len(t, extra, 1)
	assert.Contains(t, extra[0].Content, "digest survives")
	assert.NoError(t, s.Clear(ctx))
}

func TestSummaryCompressionLoadsPersistedSummaries(t *testing.T) {
	store := &fakeSummaryStore{summaries: []ConversationSummary{{DigestText: "from last session"}}}
	s := NewSummaryCompression(5, 10, fixedSummarizer("new", nil), store)

	extra := s.AdditionalSystemMessages(context.Background())
	require.Len(t, extra, 1)
	assert.Contains(t, extra[0].Content, "from last session")
}

func TestSummaryCompressionRestoreAndClear(t *testing.T) {
	ctx := context.Background()
	store := &fakeSummaryStore{}
	s := NewSummaryCompression(5, 10, fixedSummarizer("digest", nil), store)

	restored := []ConversationSummary{{DigestText: "branch digest", OriginalMessages: conversation(2)}}
	require.NoError(t, s.RestoreSummaries(ctx, restored))
	assert.Equal(t, "branch digest", s.Summaries(ctx)[0].DigestText)
	assert.Len(t, store.summaries, 1)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.Summaries(ctx))
	assert.Empty(t, store.summaries)
	assert.Equal(t, 2, store.clears)
	assert.Nil(t, s.AdditionalSystemMessages(ctx))
}

func TestSummaryCompressionDefaults(t *testing.T) {
	s := NewSummaryCompression(0, 0, nil, nil)
	assert.Equal(t, DefaultKeepRecentCount, s.KeepRecentCount())
	assert.Equal(t, DefaultSummaryBlockSize, s.SummaryBlockSize())

	out, err := s.Truncate(context.Background(), conversation(25), Limits{})
	require.NoError(t, err)
	assert.Len(t, out, 25, "without a summarizer nothing is compressed")
}
