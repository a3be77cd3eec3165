package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenUserDB(filepath.Join(t.TempDir(), "user", "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(eventID, messageID, eventType string) MailEvent {
	return MailEvent{
		EventID:           eventID,
		Timestamp:         time.Now().Unix(),
		MessageDate:       time.Now().Unix(),
		EventType:         eventType,
		Provider:          "GOOGLE",
		InboxID:           "inbox-1",
		UserID:            "user-1",
		ProviderMessageID: messageID,
		Subject:           "hello",
		Sender:            "alice@example.com",
		ToAddrs:           `["bob@example.com"]`,
		HeadersJSON:       "{}",
		LabelsJSON:        `["INBOX"]`,
	}
}

func TestAppendMailEventWritesOutbox(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("ev-1", "msg-1", "mail.received")
	require.NoError(t, store.AppendMailEvent(ctx, ev, "mail.user-1.mail.received", []byte(`{"id":"msg-1"}`), "mail.received|GOOGLE|msg-1"))

	msgs, err := store.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "mail.user-1.mail.received", msgs[0].Subject)
	assert.Equal(t, "mail.received|GOOGLE|msg-1", msgs[0].MsgID)
	assert.JSONEq(t, `{"id":"msg-1"}`, string(msgs[0].Payload))
}

func TestAppendMailEventDeduplicates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("ev-1", "msg-1", "mail.received")
	require.NoError(t, store.AppendMailEvent(ctx, ev, "mail.user-1.mail.received", []byte("{}"), "m1"))

	// Same provider, message id and event type under a fresh event id: the
	// event is ignored and no second outbox entry appears.
	dup := testEvent("ev-2", "msg-1", "mail.received")
	require.NoError(t, store.AppendMailEvent(ctx, dup, "mail.user-1.mail.received", []byte("{}"), "m1"))

	// A different event type for the same message is a new event.
	upd := testEvent("ev-3", "msg-1", "mail.updated")
	require.NoError(t, store.AppendMailEvent(ctx, upd, "mail.user-1.mail.updated", []byte("{}"), "m2"))

	msgs, err := store.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestOutboxPublishLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendMailEvent(ctx, testEvent("ev-1", "msg-1", "mail.received"), "s", []byte("{}"), "m1"))
	require.NoError(t, store.AppendMailEvent(ctx, testEvent("ev-2", "msg-2", "mail.received"), "s", []byte("{}"), "m2"))

	msgs, err := store.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, store.MarkPublished(ctx, msgs[0].ID))

	remaining, err := store.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, msgs[1].ID, remaining[0].ID)
}

func TestOutboxRetryBackoff(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendMailEvent(ctx, testEvent("ev-1", "msg-1", "mail.received"), "s", []byte("{}"), "m1"))

	msgs, err := store.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Pushing next_attempt_at into the future hides the message.
	require.NoError(t, store.MarkOutboxRetry(ctx, msgs[0].ID, time.Minute))

	msgs, err = store.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cp, err := store.LoadCheckpoint(ctx, "GOOGLE")
	require.NoError(t, err)
	assert.Equal(t, "", cp)

	require.NoError(t, store.SaveCheckpoint(ctx, "GOOGLE", "inbox-1", "12345", StatusSyncing))
	require.NoError(t, store.SaveCheckpoint(ctx, "GOOGLE", "inbox-1", "12399", StatusHooked))

	cp, err = store.LoadCheckpoint(ctx, "GOOGLE")
	require.NoError(t, err)
	assert.Equal(t, "12399", cp)

	// Checkpoints are per provider.
	cp, err = store.LoadCheckpoint(ctx, "MICROSOFT")
	require.NoError(t, err)
	assert.Equal(t, "", cp)
}

func TestUpdateSyncStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCheckpoint(ctx, "GOOGLE", "inbox-1", "1", StatusSyncing))
	require.NoError(t, store.UpdateSyncStatus(ctx, "GOOGLE", StatusError, "upstream 503"))

	var status, lastError string
	require.NoError(t, store.DB.QueryRowContext(ctx, `
		SELECT status, last_error FROM provider_sync_state WHERE provider = ?
	`, "GOOGLE").Scan(&status, &lastError))
	assert.Equal(t, StatusError, status)
	assert.Equal(t, "upstream 503", lastError)
}
