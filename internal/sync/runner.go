package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/eventstore/sqlite"
	natsjs "github.com/Martian-dev/mailsync/internal/nats"
	"github.com/Martian-dev/mailsync/internal/store"
)

// Baseliner reports a provider's current change-feed position. Used after
// a backfill (or a stale checkpoint) to establish a fresh checkpoint
// without replaying the whole feed.
type Baseliner interface {
	CurrentCheckpoint(ctx context.Context) (string, error)
}

// ProviderAdapter bundles the three injected contracts plus baselining.
// Gmail and Outlook adapters satisfy it.
type ProviderAdapter interface {
	PageFetcher[MessageMeta]
	ChangeFeedSource
	EntityResolver[MessageMeta]
	Baseliner
}

// Runner drives continuous sync for one user inbox: initial backfill via
// the stream engine, then incremental passes via the syncer, persisting
// checkpoints and publishing events through the sqlite outbox.
type Runner struct {
	DataRoot     string
	Publisher    *natsjs.Publisher
	Adapter      ProviderAdapter
	Provider     ProviderName
	PollInterval time.Duration
	MaxResults   int
	BatchSize    int
	Log          *logrus.Entry
}

// RunInbox runs continuous sync for a user inbox until ctx is canceled.
func (r *Runner) RunInbox(ctx context.Context, userID, inboxID string) error {
	dbPath := filepath.Join(r.DataRoot, userID, "events.db")
	events, err := sqlite.OpenUserDB(dbPath)
	if err != nil {
		return fmt.Errorf("open user DB: %w", err)
	}
	defer events.Close()

	messages, err := store.NewUserStore(filepath.Join(r.DataRoot, "users"), userID)
	if err != nil {
		return fmt.Errorf("open message store: %w", err)
	}
	defer messages.Close()

	if err := r.Publisher.EnsureStream(ctx); err != nil {
		return fmt.Errorf("ensure NATS stream: %w", err)
	}

	// Outbox dispatcher runs for the lifetime of this inbox.
	go r.dispatchLoop(ctx, events)

	cp, err := events.LoadCheckpoint(ctx, string(r.Provider))
	if err != nil {
		r.Log.WithError(err).Warn("load checkpoint")
	}

	if cp == "" {
		r.Log.Info("starting initial backfill")
		if err := events.SaveCheckpoint(ctx, string(r.Provider), inboxID, "", sqlite.StatusSyncing); err != nil {
			r.Log.WithError(err).Warn("save checkpoint")
		}
		cp, err = r.backfill(ctx, events, messages, userID, inboxID)
		if err != nil {
			_ = events.UpdateSyncStatus(ctx, string(r.Provider), sqlite.StatusError, err.Error())
			return fmt.Errorf("backfill: %w", err)
		}
		if err := events.SaveCheckpoint(ctx, string(r.Provider), inboxID, cp, sqlite.StatusHooked); err != nil {
			r.Log.WithError(err).Warn("save checkpoint")
		}
		r.Log.WithField("checkpoint", cp).Info("backfill complete")
	}

	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Log.Info("stopping sync")
			return nil
		case <-ticker.C:
			cp, err = events.LoadCheckpoint(ctx, string(r.Provider))
			if err != nil {
				r.Log.WithError(err).Warn("load checkpoint")
				continue
			}
			if cp == "" {
				continue
			}

			next, err := r.syncOnce(ctx, events, messages, userID, inboxID, cp)
			if err != nil {
				var stale *StaleCheckpointError
				if errors.As(err, &stale) {
					// Recovery differs from a plain retry: re-baseline from
					// a fresh checkpoint via a full backfill.
					r.Log.WithField("checkpoint", stale.Checkpoint).Warn("checkpoint expired, re-baselining")
					next, err = r.backfill(ctx, events, messages, userID, inboxID)
					if err != nil {
						_ = events.UpdateSyncStatus(ctx, string(r.Provider), sqlite.StatusError, err.Error())
						continue
					}
				} else {
					r.Log.WithError(err).Error("incremental sync failed")
					_ = events.UpdateSyncStatus(ctx, string(r.Provider), sqlite.StatusError, err.Error())
					continue
				}
			}

			if next != cp {
				if err := events.SaveCheckpoint(ctx, string(r.Provider), inboxID, next, sqlite.StatusHooked); err != nil {
					r.Log.WithError(err).Warn("save checkpoint")
				}
			}
		}
	}
}

// syncOnce runs incremental passes from cp, draining HasMore pages, and
// returns the final checkpoint.
func (r *Runner) syncOnce(ctx context.Context, events *sqlite.Store, messages *store.UserStore, userID, inboxID, cp string) (string, error) {
	syncer := NewSyncer[MessageMeta](r.Adapter, r.Adapter)

	for {
		result, err := syncer.ProcessSync(ctx, cp, SyncOptions{MaxResults: r.MaxResults})
		if err != nil {
			return cp, err
		}

		if err := r.applyResult(ctx, events, messages, userID, inboxID, result); err != nil {
			return cp, err
		}
		cp = result.NewCheckpoint

		if !result.HasMore {
			return cp, nil
		}
		if err := ctx.Err(); err != nil {
			return cp, err
		}
	}
}

// backfill streams the full mailbox through the engine, persisting every
// message, then adopts the provider's current feed position.
func (r *Runner) backfill(ctx context.Context, events *sqlite.Store, messages *store.UserStore, userID, inboxID string) (string, error) {
	cb := Callbacks[MessageMeta]{
		OnBatch: func(b Batch[MessageMeta]) error {
			for _, meta := range b.Items {
				if err := r.persistMessage(ctx, events, messages, userID, inboxID, meta, natsjs.EventMailReceived); err != nil {
					return err
				}
			}
			return nil
		},
		OnProgress: func(p Progress) {
			r.Log.WithFields(logrus.Fields{
				"current": p.Current,
				"batches": p.BatchCount,
			}).Debug("backfill progress")
		},
	}

	summary, err := RunWithCallbacks[MessageMeta](ctx, r.Adapter, StreamOptions{BatchSize: r.BatchSize}, cb)
	if err != nil {
		return "", err
	}
	r.Log.WithFields(logrus.Fields{
		"messages": summary.TotalProcessed,
		"batches":  summary.TotalBatches,
		"duration": summary.Duration,
	}).Info("backfill stream finished")

	return r.Adapter.CurrentCheckpoint(ctx)
}

// applyResult writes one sync pass into the event store, the per-user
// message projection and the outbox.
func (r *Runner) applyResult(ctx context.Context, events *sqlite.Store, messages *store.UserStore, userID, inboxID string, result *SyncResult[MessageMeta]) error {
	for _, meta := range result.Added {
		if err := r.persistMessage(ctx, events, messages, userID, inboxID, meta, natsjs.EventMailReceived); err != nil {
			return err
		}
	}
	for _, meta := range result.Updated {
		if err := r.persistMessage(ctx, events, messages, userID, inboxID, meta, natsjs.EventMailUpdated); err != nil {
			return err
		}
	}
	for _, id := range result.DeletedIDs {
		if err := messages.MarkDeleted(string(r.Provider), id); err != nil {
			return err
		}
		if err := r.persistDeletion(ctx, events, userID, inboxID, id); err != nil {
			return err
		}
	}

	if len(result.Added)+len(result.Updated)+len(result.DeletedIDs) > 0 {
		r.Log.WithFields(logrus.Fields{
			"added":   len(result.Added),
			"updated": len(result.Updated),
			"deleted": len(result.DeletedIDs),
		}).Info("applied sync pass")
	}
	return nil
}

// persistMessage upserts the read projection and appends a mail event plus
// its outbox entry in one transaction. Duplicate provider message ids are
// ignored (UNIQUE constraint), so re-delivery is harmless.
func (r *Runner) persistMessage(ctx context.Context, events *sqlite.Store, messages *store.UserStore, userID, inboxID string, meta MessageMeta, eventType string) error {
	row := store.Message{
		Provider:    string(meta.Provider),
		MessageID:   meta.MessageID,
		ThreadID:    meta.ThreadID,
		InboxID:     inboxID,
		Subject:     meta.Subject,
		Sender:      meta.Sender,
		ToAddrs:     mustJSON(meta.To),
		CcAddrs:     mustJSON(meta.Cc),
		BccAddrs:    mustJSON(meta.Bcc),
		Snippet:     meta.Snippet,
		LabelsJSON:  mustJSON(meta.ProviderLabels),
		HeadersJSON: mustJSON(meta.Headers),
		MessageDate: meta.MessageDate,
	}
	if err := messages.UpsertMessage(row); err != nil {
		return fmt.Errorf("upsert message %s: %w", meta.MessageID, err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"event_id":            uuid.NewString(),
		"ts":                  time.Now().Unix(),
		"msg_date":            meta.MessageDate.Unix(),
		"provider":            string(meta.Provider),
		"inbox_id":            inboxID,
		"user_id":             userID,
		"provider_message_id": meta.MessageID,
		"provider_thread_id":  meta.ThreadID,
		"subject":             meta.Subject,
		"sender":              meta.Sender,
		"to_addrs":            meta.To,
		"cc_addrs":            meta.Cc,
		"bcc_addrs":           meta.Bcc,
		"snippet":             meta.Snippet,
		"headers":             meta.Headers,
		"labels":              meta.ProviderLabels,
	})

	ev := sqlite.MailEvent{
		EventID:           uuid.NewString(),
		Timestamp:         time.Now().Unix(),
		MessageDate:       meta.MessageDate.Unix(),
		EventType:         eventType,
		Provider:          string(meta.Provider),
		InboxID:           inboxID,
		UserID:            userID,
		ProviderMessageID: meta.MessageID,
		ProviderThreadID:  meta.ThreadID,
		Subject:           meta.Subject,
		Sender:            meta.Sender,
		ToAddrs:           mustJSON(meta.To),
		CcAddrs:           mustJSON(meta.Cc),
		BccAddrs:          mustJSON(meta.Bcc),
		Snippet:           meta.Snippet,
		HeadersJSON:       mustJSON(meta.Headers),
		LabelsJSON:        mustJSON(meta.ProviderLabels),
	}

	msgID := fmt.Sprintf("%s|%s|%s", eventType, meta.Provider, meta.MessageID)
	subject := fmt.Sprintf("mail.%s.%s", userID, eventType)

	return events.AppendMailEvent(ctx, ev, subject, payload, msgID)
}

// persistDeletion records a tombstone event and its outbox entry.
func (r *Runner) persistDeletion(ctx context.Context, events *sqlite.Store, userID, inboxID, messageID string) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"event_id":            uuid.NewString(),
		"ts":                  time.Now().Unix(),
		"provider":            string(r.Provider),
		"inbox_id":            inboxID,
		"user_id":             userID,
		"provider_message_id": messageID,
	})

	ev := sqlite.MailEvent{
		EventID:           uuid.NewString(),
		Timestamp:         time.Now().Unix(),
		EventType:         natsjs.EventMailDeleted,
		Provider:          string(r.Provider),
		InboxID:           inboxID,
		UserID:            userID,
		ProviderMessageID: messageID,
	}

	msgID := fmt.Sprintf("%s|%s|%s", natsjs.EventMailDeleted, r.Provider, messageID)
	subject := fmt.Sprintf("mail.%s.%s", userID, natsjs.EventMailDeleted)

	return events.AppendMailEvent(ctx, ev, subject, payload, msgID)
}

// dispatchLoop continuously dispatches messages from the outbox to NATS.
func (r *Runner) dispatchLoop(ctx context.Context, events *sqlite.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := events.DequeueOutbox(ctx, 100)
		if err != nil {
			r.Log.WithError(err).Warn("dequeue outbox")
			time.Sleep(time.Second)
			continue
		}

		if len(msgs) == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, msg := range msgs {
			if err := r.Publisher.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
				r.Log.WithError(err).WithField("outbox_id", msg.ID).Warn("publish failed")
				_ = events.MarkOutboxRetry(ctx, msg.ID, 10*time.Second)
				continue
			}
			if err := events.MarkPublished(ctx, msg.ID); err != nil {
				r.Log.WithError(err).WithField("outbox_id", msg.ID).Warn("mark published")
			}
		}
	}
}

func (r *Runner) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return 30 * time.Second
}

// mustJSON converts value to JSON
func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}
