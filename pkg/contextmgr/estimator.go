package contextmgr

import (
	"unicode/utf8"

	"chatmemory/pkg/chat"
)

// CharsPerToken is the divisor used by the heuristic estimator.
const CharsPerToken = 4

// Estimator approximates the token cost of a message.
type Estimator interface {
	EstimateTokens(msg chat.Message) int
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(msg chat.Message) int

// EstimateTokens calls f.
func (f EstimatorFunc) EstimateTokens(msg chat.Message) int {
	return f(msg)
}

// HeuristicEstimator counts content characters divided by four, with a minimum of one.
type HeuristicEstimator struct{}

// EstimateTokens implements Estimator.
func (HeuristicEstimator) EstimateTokens(msg chat.Message) int {
	tokens := utf8.RuneCountInString(msg.Content) / CharsPerToken
	if tokens < 1 {
		return 1
	}
	return tokens
}

// TotalTokens sums the estimate over msgs.
func TotalTokens(est Estimator, msgs []chat.Message) int {
	total := 0
	for i := range msgs {
		total += est.EstimateTokens(msgs[i])
	}
	return total
}
