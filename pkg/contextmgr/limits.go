package contextmgr

import "chatmemory/pkg/chat"

// takeLast returns a copy of the last n messages.
func takeLast(msgs []chat.Message, n int) []chat.Message {
	if n < 0 {
		n = 0
	}
	if n > len(msgs) {
		n = len(msgs)
	}
	return chat.Clone(msgs[len(msgs)-n:])
}

// trimToTokenBudget keeps the longest suffix whose estimated total stays within budget, walking
// from the newest message backward. With keepNewest, a newest message that alone exceeds the
// budget is returned by itself instead of an empty result.
func trimToTokenBudget(msgs []chat.Message, budget int, est Estimator, keepNewest bool) []chat.Message {
	if len(msgs) == 0 {
		return []chat.Message{}
	}

	used := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := est.EstimateTokens(msgs[i])
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}

	if start == len(msgs) {
		if keepNewest {
			return chat.Clone(msgs[len(msgs)-1:])
		}
		return []chat.Message{}
	}
	return chat.Clone(msgs[start:])
}

// applyLimits trims by message count, then by token budget, never returning an empty result for
// non-empty input.
func applyLimits(msgs []chat.Message, limits Limits, est Estimator) []chat.Message {
	out := chat.Clone(msgs)
	if out == nil {
		out = []chat.Message{}
	}
	if limits.MaxMessages > 0 && len(out) > limits.MaxMessages {
		out = takeLast(out, limits.MaxMessages)
	}
	if limits.MaxTokens > 0 {
		out = trimToTokenBudget(out, limits.MaxTokens, est, true)
	}
	return out
}
