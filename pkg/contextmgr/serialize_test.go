package contextmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatmemory/pkg/chat"
)

func TestSerializeBranchPreservesEverything(t *testing.T) {
	created := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	branch := DialogBranch{
		ID:        "b1",
		Name:      "Branch 1",
		CreatedAt: created,
		Messages:  conversation(3),
		Summaries: []ConversationSummary{{
			DigestText:       "digest",
			OriginalMessages: conversation(2),
			CreatedAt:        created,
		}},
	}

	stored := SerializeBranch(&branch)
	assert.Equal(t, created.UnixNano(), stored.CreatedAt)

	restored, err := DeserializeBranch(&stored)
	require.NoError(t, err)
	assert.Equal(t, branch, restored)
}

func TestSerializeZeroTimestamp(t *testing.T) {
	msgs := []chat.Message{{Role: chat.RoleUser, Content: "no time"}}

	stored := SerializeMessages(msgs)
	assert.Equal(t, int64(0), stored[0].Timestamp)

	restored, err := DeserializeMessages(stored)
	require.NoError(t, err)
	assert.True(t, restored[0].Timestamp.IsZero())
}

func TestDeserializeRejectsUnknownRole(t *testing.T) {
	_, err := DeserializeMessages([]SerializedMessage{{Role: "tool", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool")
}

func TestMarshalSummariesJSON(t *testing.T) {
	summaries := []ConversationSummary{
		{DigestText: "one", OriginalMessages: conversation(2), CreatedAt: time.Unix(100, 0).UTC()},
		{DigestText: "two", OriginalMessages: conversation(1), CreatedAt: time.Unix(200, 0).UTC()},
	}

	data, err := MarshalSummaries(summaries)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"digest_text":"one"`)

	restored, err := UnmarshalSummaries(data)
	require.NoError(t, err)
	assert.Equal(t, summaries, restored)

	_, err = UnmarshalSummaries([]byte("{not json"))
	require.Error(t, err)
}

func TestFactSerialization(t *testing.T) {
	fact := Fact{Key: "goal", Value: "ship v1", UpdatedAt: time.Unix(0, 42).UTC()}
	stored := SerializeFact(&fact)
	assert.Equal(t, int64(42), stored.UpdatedAt)
	assert.Equal(t, fact, DeserializeFact(&stored))
}
