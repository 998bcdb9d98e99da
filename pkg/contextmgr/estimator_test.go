package contextmgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"chatmemory/pkg/chat"
)

func TestHeuristicEstimator(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"empty counts as one", "", 1},
		{"short counts as one", "hi", 1},
		{"exact multiple", strings.Repeat("a", 40), 10},
		{"rounds down", strings.Repeat("a", 43), 10},
		{"counts runes not bytes", strings.Repeat("ü", 8), 2},
	}

	est := HeuristicEstimator{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, est.EstimateTokens(chat.NewUserMessage(tt.content)))
		})
	}
}

func TestTotalTokens(t *testing.T) {
	msgs := []chat.Message{
		withTokens(chat.RoleUser, "a", 3),
		withTokens(chat.RoleAssistant, "b", 5),
	}
	assert.Equal(t, 8, TotalTokens(HeuristicEstimator{}, msgs))
	assert.Equal(t, 0, TotalTokens(HeuristicEstimator{}, nil))

	constant := EstimatorFunc(func(chat.Message) int { return 7 })
	assert.Equal(t, 14, TotalTokens(constant, msgs))
}

func TestApplyLimitsNeverEmptiesNonEmptyInput(t *testing.T) {
	msgs := []chat.Message{withTokens(chat.RoleUser, "huge", 500)}
	out := applyLimits(msgs, Limits{MaxTokens: 10}, HeuristicEstimator{})
	assert.Equal(t, msgs, out)

	out = applyLimits(nil, Limits{MaxTokens: 10, MaxMessages: 2}, HeuristicEstimator{})
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
