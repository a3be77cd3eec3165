package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *UserStore {
	t.Helper()
	st, err := NewUserStore(t.TempDir(), "user-1")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testMessage(provider, id string, date time.Time) Message {
	return Message{
		Provider:    provider,
		MessageID:   id,
		ThreadID:    "thread-1",
		InboxID:     "inbox-1",
		Subject:     "hello",
		Sender:      "alice@example.com",
		ToAddrs:     `["bob@example.com"]`,
		LabelsJSON:  `["INBOX"]`,
		HeadersJSON: "{}",
		MessageDate: date,
	}
}

func TestUpsertAndGetMessages(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, st.UpsertMessage(testMessage("GOOGLE", "msg-1", now.Add(-time.Hour))))
	require.NoError(t, st.UpsertMessage(testMessage("GOOGLE", "msg-2", now)))
	require.NoError(t, st.UpsertMessage(testMessage("MICROSOFT", "msg-3", now.Add(-time.Minute))))

	msgs, err := st.GetMessages("", false, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// Newest first.
	assert.Equal(t, "msg-2", msgs[0].MessageID)
	assert.Equal(t, "msg-3", msgs[1].MessageID)
	assert.Equal(t, "msg-1", msgs[2].MessageID)

	google, err := st.GetMessages("GOOGLE", false, 0)
	require.NoError(t, err)
	assert.Len(t, google, 2)

	limited, err := st.GetMessages("", false, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "msg-2", limited[0].MessageID)
}

func TestUpsertIsIdempotentPerProviderID(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	m := testMessage("GOOGLE", "msg-1", now)
	require.NoError(t, st.UpsertMessage(m))

	m.Subject = "hello (edited)"
	require.NoError(t, st.UpsertMessage(m))

	msgs, err := st.GetMessages("GOOGLE", false, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello (edited)", msgs[0].Subject)
}

func TestMarkDeletedTombstones(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, st.UpsertMessage(testMessage("GOOGLE", "msg-1", now)))
	require.NoError(t, st.MarkDeleted("GOOGLE", "msg-1"))

	visible, err := st.GetMessages("", false, 0)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := st.GetMessages("", true, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Deleted)

	// Deleting an id that was never synced is a no-op.
	assert.NoError(t, st.MarkDeleted("GOOGLE", "ghost"))
}

func TestMarkDeletedScopedToProvider(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	// Same message id under both providers; only one gets tombstoned.
	require.NoError(t, st.UpsertMessage(testMessage("GOOGLE", "msg-1", now)))
	require.NoError(t, st.UpsertMessage(testMessage("MICROSOFT", "msg-1", now)))
	require.NoError(t, st.MarkDeleted("GOOGLE", "msg-1"))

	visible, err := st.GetMessages("", false, 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "MICROSOFT", visible[0].Provider)
}

func TestUpsertClearsTombstone(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, st.UpsertMessage(testMessage("GOOGLE", "msg-1", now)))
	require.NoError(t, st.MarkDeleted("GOOGLE", "msg-1"))
	require.NoError(t, st.UpsertMessage(testMessage("GOOGLE", "msg-1", now)))

	visible, err := st.GetMessages("", false, 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.False(t, visible[0].Deleted)
}
