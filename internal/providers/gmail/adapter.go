package gmail

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/sync"
)

// Adapter implements the sync contracts (PageFetcher, ChangeFeedSource,
// EntityResolver, Baseliner) for Gmail. Cursors are Gmail page tokens;
// checkpoints are history ids. Both are opaque outside this package.
type Adapter struct {
	svc      *gmail.Service
	user     string
	strategy sync.Strategy
}

// New creates a new Gmail adapter
func New(ctx context.Context, tok *auth.Token, flags sync.FetchFlags) (*Adapter, error) {
	oauth2Token := &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	config := &oauth2.Config{
		Scopes: []string{gmail.GmailReadonlyScope},
	}

	httpClient := config.Client(ctx, oauth2Token)

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Adapter{
		svc:      svc,
		user:     "me",
		strategy: sync.SelectFetchStrategy(flags),
	}, nil
}

// FetchPage lists one page of messages and hydrates each to metadata.
// The cursor is Gmail's page token; empty means the first page.
func (a *Adapter) FetchPage(ctx context.Context, req sync.PageRequest) (sync.PageResult[sync.MessageMeta], error) {
	var out sync.PageResult[sync.MessageMeta]

	call := a.svc.Users.Messages.List(a.user).
		Context(ctx).
		MaxResults(int64(req.PageSize)).
		IncludeSpamTrash(req.Filters.IncludeSpamTrash)
	if req.Cursor != "" {
		call = call.PageToken(req.Cursor)
	}
	if req.Filters.Query != "" {
		call = call.Q(req.Filters.Query)
	}
	if len(req.Filters.Labels) > 0 {
		call = call.LabelIds(req.Filters.Labels...)
	}

	resp, err := call.Do()
	if err != nil {
		return out, fmt.Errorf("failed to list messages: %w", err)
	}

	for _, m := range resp.Messages {
		meta, err := a.svc.Users.Messages.Get(a.user, m.Id).Context(ctx).Format(a.strategy.GmailFormat()).Do()
		if err != nil {
			if isNotFound(err) {
				// Deleted between list and get; skip.
				continue
			}
			return out, fmt.Errorf("failed to get message %s: %w", m.Id, err)
		}
		out.Items = append(out.Items, normalize(meta, a.user))
	}

	out.NextCursor = resp.NextPageToken
	out.TotalEstimate = int(resp.ResultSizeEstimate)
	return out, nil
}

// FetchChangeFeedPage reads the Gmail history feed from the checkpoint
// (a history id minted by this adapter). A history id Gmail no longer
// retains surfaces as *sync.StaleCheckpointError.
func (a *Adapter) FetchChangeFeedPage(ctx context.Context, req sync.ChangeFeedRequest) (sync.ChangeFeedPage, error) {
	var out sync.ChangeFeedPage

	startHistoryID, err := strconv.ParseUint(req.Checkpoint, 10, 64)
	if err != nil {
		return out, &sync.StaleCheckpointError{Checkpoint: req.Checkpoint, Err: fmt.Errorf("invalid history id: %w", err)}
	}

	call := a.svc.Users.History.List(a.user).
		Context(ctx).
		StartHistoryId(startHistoryID).
		MaxResults(int64(req.MaxResults))
	if len(req.Filters.Labels) == 1 {
		call = call.LabelId(req.Filters.Labels[0])
	}

	resp, err := call.Do()
	if err != nil {
		// Gmail reports an expired history id as 404.
		if isNotFound(err) || strings.Contains(err.Error(), "historyId") {
			return out, &sync.StaleCheckpointError{Checkpoint: req.Checkpoint, Err: err}
		}
		return out, fmt.Errorf("failed to list history: %w", err)
	}

	latestHistoryID := startHistoryID
	for _, history := range resp.History {
		if history.Id > latestHistoryID {
			latestHistoryID = history.Id
		}

		for _, rec := range history.MessagesAdded {
			out.Records = append(out.Records, sync.ChangeRecord{
				Type:     sync.ChangeAdded,
				EntityID: rec.Message.Id,
				Meta:     map[string]string{"labels": strings.Join(rec.Message.LabelIds, ",")},
			})
		}
		for _, rec := range history.MessagesDeleted {
			out.Records = append(out.Records, sync.ChangeRecord{
				Type:     sync.ChangeDeleted,
				EntityID: rec.Message.Id,
			})
		}
		for _, rec := range history.LabelsAdded {
			out.Records = append(out.Records, sync.ChangeRecord{
				Type:          sync.ChangeUpdated,
				EntityID:      rec.Message.Id,
				ChangedFields: []string{"labels"},
			})
		}
		for _, rec := range history.LabelsRemoved {
			out.Records = append(out.Records, sync.ChangeRecord{
				Type:          sync.ChangeUpdated,
				EntityID:      rec.Message.Id,
				ChangedFields: []string{"labels"},
			})
		}
	}

	out.NextCheckpoint = strconv.FormatUint(latestHistoryID, 10)
	out.HasMore = resp.NextPageToken != ""
	return out, nil
}

// GetEntityByID hydrates one message. A message that no longer exists
// returns (nil, nil).
func (a *Adapter) GetEntityByID(ctx context.Context, id string) (*sync.MessageMeta, error) {
	meta, err := a.svc.Users.Messages.Get(a.user, id).Context(ctx).Format(a.strategy.GmailFormat()).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	m := normalize(meta, a.user)
	return &m, nil
}

// CurrentCheckpoint returns the mailbox's current history id, used to
// baseline after a backfill.
func (a *Adapter) CurrentCheckpoint(ctx context.Context) (string, error) {
	profile, err := a.svc.Users.GetProfile(a.user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	if profile.HistoryId == 0 {
		return "", fmt.Errorf("profile reported no history id")
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

// isNotFound reports whether err is a Gmail 404.
func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}

// normalize converts Gmail message to MessageMeta
func normalize(m *gmail.Message, userID string) sync.MessageMeta {
	headers := make(map[string]string)
	if m.Payload != nil {
		for _, kv := range m.Payload.Headers {
			headers[kv.Name] = kv.Value
		}
	}

	return sync.MessageMeta{
		Provider:       sync.ProviderGoogle,
		UserID:         userID,
		InboxID:        "primary", // Could be parsed from labels
		MessageID:      m.Id,
		ThreadID:       m.ThreadId,
		Subject:        headers["Subject"],
		Sender:         headers["From"],
		To:             splitAddrs(headers["To"]),
		Cc:             splitAddrs(headers["Cc"]),
		Bcc:            splitAddrs(headers["Bcc"]),
		Snippet:        m.Snippet,
		ProviderLabels: m.LabelIds,
		Headers:        headers,
		MessageDate:    time.UnixMilli(m.InternalDate),
	}
}

// splitAddrs parses comma-separated email addresses
func splitAddrs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
