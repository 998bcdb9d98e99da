// Package timeout provides timeout middleware for LLM clients.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatmemory/pkg/agent/llm"
	"chatmemory/pkg/agent/llmerrors"
)

// Middleware returns a middleware function that bounds each stream by duration, measured from
// the request until the final chunk. An exceeded deadline is reported in-stream as an
// ErrorTypeTimeout error. A non-positive duration disables the middleware.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if duration <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)

				in, err := next.Stream(timeoutCtx, req)
				if err != nil {
					cancel()
					return nil, asTimeout(timeoutCtx, ctx, err, duration)
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					defer cancel()

					for {
						select {
						case chunk, ok := <-in:
							if !ok {
								return
							}
							if chunk.Error != nil {
								chunk.Error = asTimeout(timeoutCtx, ctx, chunk.Error, duration)
							}
							select {
							case out <- chunk:
							case <-ctx.Done():
								return
							}
							if chunk.Done || chunk.Error != nil {
								return
							}
						case <-timeoutCtx.Done():
							if ctx.Err() != nil {
								// Caller cancelled; nothing left to report.
								return
							}
							select {
							case out <- llm.StreamChunk{Error: timeoutError(duration)}:
							case <-ctx.Done():
							}
							return
						}
					}
				}()
				return out, nil
			},
			next.GetModelName,
		)
	}
}

func timeoutError(duration time.Duration) error {
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, context.DeadlineExceeded,
		fmt.Sprintf("no complete response within %s", duration))
}

// asTimeout rewrites err as a timeout when our own deadline (not the caller's) fired.
func asTimeout(timeoutCtx, parent context.Context, err error, duration time.Duration) error {
	if parent.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return timeoutError(duration)
	}
	return err
}
