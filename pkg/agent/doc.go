// Package agent provides the chat orchestrator that owns a session's message log.
//
// An Agent turns each user message into a model request: it appends the message to the log,
// lets the active contextmgr.Strategy bound the history, prepends the system prompt and any
// strategy-synthesized context, streams the model's answer and records it. Configuration and the
// active strategy are swappable snapshots that never block readers.
//
// Model clients live under internal/llmimpl and are built by LLMClientFactory, which wraps them
// with the metrics and timeout middleware.
package agent
