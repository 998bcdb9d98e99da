package metrics

import (
	"sync"
	"time"
)

// InternalRecorder implements the Recorder interface using in-memory aggregation per session.
// It backs usage reporting when no Prometheus server is available.
type InternalRecorder struct {
	sessions map[string]*SessionUsage
	mu       sync.RWMutex
}

// SessionUsage represents aggregated usage for a chat session.
//
//nolint:govet
type SessionUsage struct {
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	ErrorCount       int64     `json:"error_count"`
	SessionID        string    `json:"session_id"`
	LastUpdated      time.Time `json:"last_updated"`
}

// NewInternalRecorder creates an empty in-memory recorder.
func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{
		sessions: make(map[string]*SessionUsage),
	}
}

// ObserveRequest implements Recorder.
func (r *InternalRecorder) ObserveRequest(
	_, sessionID string,
	promptTokens, completionTokens int,
	success bool,
	_ string,
	_ time.Duration,
) {
	r.mu.Lock()
	defer r.mu.Unlock()

	usage, exists := r.sessions[sessionID]
	if !exists {
		usage = &SessionUsage{SessionID: sessionID}
		r.sessions[sessionID] = usage
	}

	usage.RequestCount++
	usage.LastUpdated = time.Now()
	if !success {
		usage.ErrorCount++
		return
	}
	usage.PromptTokens += int64(promptTokens)
	usage.CompletionTokens += int64(completionTokens)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
}

// SessionUsage returns a copy of the aggregated usage for a session, or nil if none was recorded.
func (r *InternalRecorder) SessionUsage(sessionID string) *SessionUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if usage, exists := r.sessions[sessionID]; exists {
		out := *usage
		return &out
	}
	return nil
}

// AllSessions returns copies of the usage for every session.
func (r *InternalRecorder) AllSessions() map[string]*SessionUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*SessionUsage, len(r.sessions))
	for id, usage := range r.sessions {
		out := *usage
		result[id] = &out
	}
	return result
}

// Reset clears all usage.
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*SessionUsage)
}
