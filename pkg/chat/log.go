package chat

import "sync"

// Log is the ordered, mutable conversation history of one session.
//
// Every mutation takes the log mutex for the duration of a slice operation only; callers must
// never hold it across model calls or store I/O, so no method here blocks on anything external.
type Log struct {
	mu       sync.Mutex
	messages []Message
	// epoch increments on Replace and Clear so stale truncation results can be detected.
	epoch uint64
}

// Snapshot is an immutable copy of the log together with the position it was taken at.
type Snapshot struct {
	Messages []Message
	epoch    uint64
	length   int
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a message at the end.
func (l *Log) Append(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

// AppendBatch adds messages at the end in order, as one step.
func (l *Log) AppendBatch(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msgs...)
}

// Messages returns a copy of the current messages.
func (l *Log) Messages() []Message {
	return l.Snapshot().Messages
}

// Snapshot returns a consistent copy of the log.
func (l *Log) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := make([]Message, len(l.messages))
	copy(msgs, l.messages)
	return Snapshot{Messages: msgs, epoch: l.epoch, length: len(l.messages)}
}

// Replace swaps the whole history atomically.
func (l *Log) Replace(msgs []Message) {
	replacement := make([]Message, len(msgs))
	copy(replacement, msgs)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = replacement
	l.epoch++
}

// InstallTruncated installs result, which was computed from snap, in place of the messages snap
// covered. Messages appended after snap was taken are kept after result. If the log was replaced
// or cleared since snap, result is stale and is dropped; the return value reports whether it was
// installed.
func (l *Log) InstallTruncated(snap Snapshot, result []Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.epoch != snap.epoch || len(l.messages) < snap.length {
		return false
	}

	tail := l.messages[snap.length:]
	merged := make([]Message, 0, len(result)+len(tail))
	merged = append(merged, result...)
	merged = append(merged, tail...)
	l.messages = merged
	l.epoch++
	return true
}

// Clear removes all messages.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
	l.epoch++
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
