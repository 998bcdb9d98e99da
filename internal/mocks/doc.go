// Package mocks provides a scriptable model client for tests of the agent, the strategy factory
// and the CLI.
//
//	client := mocks.NewMockLLMClient()
//	client.RespondWith("Hello!")           // every call answers "Hello!"
//	client.StreamWithError("par", err)     // partial answer, then a stream error
//	started := client.StreamThenBlock("")  // blocks until the caller cancels
//
// Calls are recorded; LastStreamCallMessages returns the payload of the latest one.
package mocks
