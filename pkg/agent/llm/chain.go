package llm

import "context"

// Middleware decorates an LLMClient. Decorators are stacked with Chain.
type Middleware func(next LLMClient) LLMClient

type clientFunc struct {
	stream    func(context.Context, CompletionRequest) (<-chan StreamChunk, error)
	modelName func() string
}

func (f clientFunc) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	return f.stream(ctx, req)
}

func (f clientFunc) GetModelName() string {
	return f.modelName()
}

// WrapClient builds an LLMClient from a stream function and a model-name function, for
// middleware that only needs to intercept Stream.
func WrapClient(
	stream func(context.Context, CompletionRequest) (<-chan StreamChunk, error),
	modelName func() string,
) LLMClient {
	return clientFunc{stream: stream, modelName: modelName}
}

// Chain wraps base in middlewares, the first one outermost:
//
//	Chain(client, metrics, timeout) == metrics(timeout(client))
//
// Nil middlewares are skipped.
func Chain(base LLMClient, middlewares ...Middleware) LLMClient {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		client = middlewares[i](client)
	}
	return client
}
