package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/sync"
)

// Adapter implements the sync contracts for Outlook via Microsoft Graph.
// Cursors are @odata.nextLink URLs from message listing; checkpoints are
// delta/next links from the messages delta query. Both are opaque outside
// this package.
type Adapter struct {
	client     *msgraphsdk.GraphServiceClient
	userID     string
	strategy   sync.Strategy
	maxResults int
}

// New creates a new Outlook adapter. maxResults sets the delta feed's page
// size; zero means the default.
func New(ctx context.Context, tok *auth.Token, userID string, flags sync.FetchFlags, maxResults int) (*Adapter, error) {
	cred := &staticTokenCredential{token: tok.AccessToken}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}

	return &Adapter{
		client:     client,
		userID:     userID,
		strategy:   sync.SelectFetchStrategy(flags),
		maxResults: maxResults,
	}, nil
}

// FetchPage lists one page of messages. The cursor is Graph's
// @odata.nextLink; empty means the first page.
func (a *Adapter) FetchPage(ctx context.Context, req sync.PageRequest) (sync.PageResult[sync.MessageMeta], error) {
	var out sync.PageResult[sync.MessageMeta]

	var result models.MessageCollectionResponseable
	var err error

	if req.Cursor != "" {
		result, err = users.NewItemMessagesRequestBuilder(req.Cursor, a.client.GetAdapter()).Get(ctx, nil)
	} else {
		requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
				Top:    Int32Ptr(int32(req.PageSize)),
				Select: a.strategy.GraphSelect(),
			},
		}
		if req.Filters.Query != "" {
			requestConfig.QueryParameters.Search = &req.Filters.Query
		}
		result, err = a.client.Users().ByUserId(a.userID).Messages().Get(ctx, requestConfig)
	}
	if err != nil {
		return out, fmt.Errorf("failed to list messages: %w", err)
	}

	for _, msg := range result.GetValue() {
		out.Items = append(out.Items, normalizeOutlook(msg, a.userID))
	}
	if next := result.GetOdataNextLink(); next != nil {
		out.NextCursor = *next
	}
	return out, nil
}

// FetchChangeFeedPage reads the inbox delta feed. The checkpoint is the
// delta link (or mid-sweep next link) Graph handed back previously; its
// page size was pinned by the $top of the initial delta request (see
// CurrentCheckpoint), so req.MaxResults cannot change it mid-feed. A sync
// state Graph has discarded surfaces as *sync.StaleCheckpointError.
func (a *Adapter) FetchChangeFeedPage(ctx context.Context, req sync.ChangeFeedRequest) (sync.ChangeFeedPage, error) {
	var out sync.ChangeFeedPage

	builder := users.NewItemMailFoldersItemMessagesDeltaRequestBuilder(req.Checkpoint, a.client.GetAdapter())

	result, err := builder.GetAsDeltaGetResponse(ctx, nil)
	if err != nil {
		if isResyncRequired(err) {
			return out, &sync.StaleCheckpointError{Checkpoint: req.Checkpoint, Err: err}
		}
		return out, fmt.Errorf("failed to fetch delta: %w", err)
	}

	for _, msg := range result.GetValue() {
		id := msg.GetId()
		if id == nil {
			continue
		}

		if _, removed := msg.GetAdditionalData()["@removed"]; removed {
			out.Records = append(out.Records, sync.ChangeRecord{
				Type:     sync.ChangeDeleted,
				EntityID: *id,
			})
			continue
		}

		// Graph's delta feed does not distinguish new from changed
		// messages, but a fresh message carries its receivedDateTime in
		// the delta payload while a bare change notification does not.
		if msg.GetReceivedDateTime() != nil {
			out.Records = append(out.Records, sync.ChangeRecord{
				Type:     sync.ChangeAdded,
				EntityID: *id,
			})
		} else {
			out.Records = append(out.Records, sync.ChangeRecord{
				Type:          sync.ChangeUpdated,
				EntityID:      *id,
				ChangedFields: []string{"properties"},
			})
		}
	}

	if next := result.GetOdataNextLink(); next != nil && *next != "" {
		out.NextCheckpoint = *next
		out.HasMore = true
	} else if delta := result.GetOdataDeltaLink(); delta != nil {
		out.NextCheckpoint = *delta
	}
	return out, nil
}

// GetEntityByID hydrates one message. A message that no longer exists
// returns (nil, nil).
func (a *Adapter) GetEntityByID(ctx context.Context, id string) (*sync.MessageMeta, error) {
	requestConfig := &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{
			Select: a.strategy.GraphSelect(),
		},
	}

	msg, err := a.client.Users().ByUserId(a.userID).Messages().ByMessageId(id).Get(ctx, requestConfig)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	meta := normalizeOutlook(msg, a.userID)
	return &meta, nil
}

// CurrentCheckpoint asks Graph for a delta link at the current position
// without replaying the feed ($deltatoken=latest). The $top here pins the
// page size of every later delta fetch from the returned link.
func (a *Adapter) CurrentCheckpoint(ctx context.Context) (string, error) {
	rawURL := baselineDeltaURL(a.userID, a.maxResults)

	result, err := users.NewItemMailFoldersItemMessagesDeltaRequestBuilder(rawURL, a.client.GetAdapter()).GetAsDeltaGetResponse(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch baseline delta link: %w", err)
	}

	delta := result.GetOdataDeltaLink()
	if delta == nil || *delta == "" {
		return "", fmt.Errorf("delta response carried no delta link")
	}
	return *delta, nil
}

// baselineDeltaURL builds the initial inbox delta request that asks Graph
// for a current-position delta link without replaying the feed.
func baselineDeltaURL(userID string, top int) string {
	if top <= 0 {
		top = sync.DefaultMaxResults
	}
	return fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/mailFolders/inbox/messages/delta?$deltatoken=latest&$top=%d",
		url.PathEscape(userID), top,
	)
}

// isResyncRequired reports whether Graph asked for a full resync (410, or
// an explicit resync error code).
func isResyncRequired(err error) bool {
	var odata *odataerrors.ODataError
	if !errors.As(err, &odata) {
		return false
	}
	if odata.ResponseStatusCode == 410 {
		return true
	}
	if mainErr := odata.GetErrorEscaped(); mainErr != nil {
		if code := mainErr.GetCode(); code != nil {
			switch *code {
			case "resyncRequired", "syncStateNotFound", "SyncStateNotFound":
				return true
			}
		}
	}
	return false
}

// isNotFound reports whether err is a Graph 404.
func isNotFound(err error) bool {
	var odata *odataerrors.ODataError
	return errors.As(err, &odata) && odata.ResponseStatusCode == 404
}

// normalizeOutlook converts Outlook message to MessageMeta
func normalizeOutlook(m models.Messageable, userID string) sync.MessageMeta {
	meta := sync.MessageMeta{
		Provider: sync.ProviderMicrosoft,
		UserID:   userID,
		InboxID:  "inbox",
	}

	if id := m.GetId(); id != nil {
		meta.MessageID = *id
	}

	if convID := m.GetConversationId(); convID != nil {
		meta.ThreadID = *convID
	}

	if subject := m.GetSubject(); subject != nil {
		meta.Subject = *subject
	}

	if from := m.GetFrom(); from != nil {
		if emailAddr := from.GetEmailAddress(); emailAddr != nil {
			if addr := emailAddr.GetAddress(); addr != nil {
				meta.Sender = *addr
			}
		}
	}

	if to := m.GetToRecipients(); to != nil {
		meta.To = extractAddresses(to)
	}

	if cc := m.GetCcRecipients(); cc != nil {
		meta.Cc = extractAddresses(cc)
	}

	if bcc := m.GetBccRecipients(); bcc != nil {
		meta.Bcc = extractAddresses(bcc)
	}

	if preview := m.GetBodyPreview(); preview != nil {
		meta.Snippet = *preview
	}

	if categories := m.GetCategories(); categories != nil {
		meta.ProviderLabels = categories
	}

	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		meta.MessageDate = *rcvd
	}

	meta.Headers = make(map[string]string)
	if headers := m.GetInternetMessageHeaders(); headers != nil {
		for _, h := range headers {
			if name := h.GetName(); name != nil {
				if value := h.GetValue(); value != nil {
					meta.Headers[*name] = *value
				}
			}
		}
	}

	return meta
}

// extractAddresses extracts email addresses from recipients
func extractAddresses(recipients []models.Recipientable) []string {
	var addrs []string
	for _, r := range recipients {
		if emailAddr := r.GetEmailAddress(); emailAddr != nil {
			if addr := emailAddr.GetAddress(); addr != nil {
				addrs = append(addrs, *addr)
			}
		}
	}
	return addrs
}

// staticTokenCredential implements Azure credential interface
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}

// Int32Ptr returns a pointer to an int32
func Int32Ptr(i int32) *int32 {
	return &i
}
