package contextmgr

import (
	"encoding/json"
	"fmt"
	"time"

	"chatmemory/pkg/chat"
)

// SerializedMessage is the storage form of a chat.Message. Timestamps are Unix nanoseconds in
// UTC so round trips are exact.
type SerializedMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// SerializedSummary is the storage form of a ConversationSummary.
type SerializedSummary struct {
	DigestText       string              `json:"digest_text"`
	OriginalMessages []SerializedMessage `json:"original_messages"`
	CreatedAt        int64               `json:"created_at"`
}

// SerializedFact is the storage form of a Fact.
type SerializedFact struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

// SerializedBranch is the storage form of a DialogBranch.
type SerializedBranch struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Messages  []SerializedMessage `json:"messages"`
	Summaries []SerializedSummary `json:"summaries"`
	CreatedAt int64               `json:"created_at"`
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// SerializeMessages converts messages to their storage form.
func SerializeMessages(msgs []chat.Message) []SerializedMessage {
	out := make([]SerializedMessage, len(msgs))
	for i := range msgs {
		out[i] = SerializedMessage{
			Role:      string(msgs[i].Role),
			Content:   msgs[i].Content,
			Timestamp: toNanos(msgs[i].Timestamp),
		}
	}
	return out
}

// DeserializeMessages converts stored messages back, rejecting unknown roles.
func DeserializeMessages(in []SerializedMessage) ([]chat.Message, error) {
	out := make([]chat.Message, len(in))
	for i := range in {
		role := chat.Role(in[i].Role)
		if !role.Valid() {
			return nil, fmt.Errorf("message %d: unknown role %q", i, in[i].Role)
		}
		out[i] = chat.Message{Role: role, Content: in[i].Content, Timestamp: fromNanos(in[i].Timestamp)}
	}
	return out, nil
}

// SerializeSummary converts a summary to its storage form.
func SerializeSummary(s *ConversationSummary) SerializedSummary {
	return SerializedSummary{
		DigestText:       s.DigestText,
		OriginalMessages: SerializeMessages(s.OriginalMessages),
		CreatedAt:        toNanos(s.CreatedAt),
	}
}

// DeserializeSummary converts a stored summary back.
func DeserializeSummary(in *SerializedSummary) (ConversationSummary, error) {
	originals, err := DeserializeMessages(in.OriginalMessages)
	if err != nil {
		return ConversationSummary{}, fmt.Errorf("summary originals: %w", err)
	}
	return ConversationSummary{
		DigestText:       in.DigestText,
		OriginalMessages: originals,
		CreatedAt:        fromNanos(in.CreatedAt),
	}, nil
}

// SerializeFact converts a fact to its storage form.
func SerializeFact(f *Fact) SerializedFact {
	return SerializedFact{Key: f.Key, Value: f.Value, UpdatedAt: toNanos(f.UpdatedAt)}
}

// DeserializeFact converts a stored fact back.
func DeserializeFact(in *SerializedFact) Fact {
	return Fact{Key: in.Key, Value: in.Value, UpdatedAt: fromNanos(in.UpdatedAt)}
}

// SerializeBranch converts a branch to its storage form.
func SerializeBranch(b *DialogBranch) SerializedBranch {
	summaries := make([]SerializedSummary, len(b.Summaries))
	for i := range b.Summaries {
		summaries[i] = SerializeSummary(&b.Summaries[i])
	}
	return SerializedBranch{
		ID:        b.ID,
		Name:      b.Name,
		Messages:  SerializeMessages(b.Messages),
		Summaries: summaries,
		CreatedAt: toNanos(b.CreatedAt),
	}
}

// DeserializeBranch converts a stored branch back.
func DeserializeBranch(in *SerializedBranch) (DialogBranch, error) {
	msgs, err := DeserializeMessages(in.Messages)
	if err != nil {
		return DialogBranch{}, fmt.Errorf("branch %s messages: %w", in.ID, err)
	}
	summaries := make([]ConversationSummary, len(in.Summaries))
	for i := range in.Summaries {
		if summaries[i], err = DeserializeSummary(&in.Summaries[i]); err != nil {
			return DialogBranch{}, fmt.Errorf("branch %s: %w", in.ID, err)
		}
	}
	return DialogBranch{
		ID:        in.ID,
		Name:      in.Name,
		Messages:  msgs,
		Summaries: summaries,
		CreatedAt: fromNanos(in.CreatedAt),
	}, nil
}

// MarshalMessages encodes messages as JSON.
func MarshalMessages(msgs []chat.Message) ([]byte, error) {
	data, err := json.Marshal(SerializeMessages(msgs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages: %w", err)
	}
	return data, nil
}

// UnmarshalMessages decodes messages encoded by MarshalMessages.
func UnmarshalMessages(data []byte) ([]chat.Message, error) {
	var stored []SerializedMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return DeserializeMessages(stored)
}

// MarshalSummaries encodes summaries as JSON.
func MarshalSummaries(summaries []ConversationSummary) ([]byte, error) {
	stored := make([]SerializedSummary, len(summaries))
	for i := range summaries {
		stored[i] = SerializeSummary(&summaries[i])
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summaries: %w", err)
	}
	return data, nil
}

// UnmarshalSummaries decodes summaries encoded by MarshalSummaries.
func UnmarshalSummaries(data []byte) ([]ConversationSummary, error) {
	var stored []SerializedSummary
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summaries: %w", err)
	}
	out := make([]ConversationSummary, len(stored))
	for i := range stored {
		s, err := DeserializeSummary(&stored[i])
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
