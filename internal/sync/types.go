package sync

import (
	"context"
	"time"
)

// ProviderName represents email provider types
type ProviderName string

const (
	ProviderGoogle    ProviderName = "GOOGLE"
	ProviderMicrosoft ProviderName = "MICROSOFT"
)

// MessageMeta represents normalized email metadata across providers
type MessageMeta struct {
	Provider       ProviderName
	UserID         string
	InboxID        string
	MessageID      string // provider ID (Gmail: Id, Outlook: id)
	ThreadID       string // provider thread/conversation id
	Subject        string
	Sender         string
	To             []string
	Cc             []string
	Bcc            []string
	Snippet        string
	ProviderLabels []string
	Headers        map[string]string
	MessageDate    time.Time
}

// FilterOptions narrows what a provider fetch returns. The core passes it
// through to the injected fetcher untouched.
type FilterOptions struct {
	Query            string
	Labels           []string
	IncludeSpamTrash bool
}

// PageRequest describes one page fetch against a provider.
type PageRequest struct {
	// Cursor is the provider's opaque pagination token. Empty means "start
	// from the beginning". The core never parses or constructs cursors.
	Cursor   string
	PageSize int
	Filters  FilterOptions
}

// PageResult is one page of items from a provider.
type PageResult[T any] struct {
	Items []T
	// NextCursor is the token for the following page; empty means
	// end-of-results.
	NextCursor string
	// TotalEstimate is the provider's estimate of the full result set size.
	// Zero or negative means unknown.
	TotalEstimate int
}

// PageFetcher fetches one page at a time from a provider. Implementations
// are provider-specific and injected into the core; they own retries,
// backoff and timeouts.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, req PageRequest) (PageResult[T], error)
}

// PageFetchFunc adapts a plain function to the PageFetcher interface.
type PageFetchFunc[T any] func(ctx context.Context, req PageRequest) (PageResult[T], error)

func (f PageFetchFunc[T]) FetchPage(ctx context.Context, req PageRequest) (PageResult[T], error) {
	return f(ctx, req)
}

// ChangeType classifies one change-feed record.
type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeDeleted
	ChangeUpdated
)

func (t ChangeType) String() string {
	switch t {
	case ChangeAdded:
		return "added"
	case ChangeDeleted:
		return "deleted"
	case ChangeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// ChangeRecord is one entry in a provider's append-only change feed,
// ordered by the feed's monotonic checkpoint.
type ChangeRecord struct {
	Type     ChangeType
	EntityID string
	// Meta carries provider hints for added records (labels, folder ids).
	Meta map[string]string
	// ChangedFields names what changed for updated records.
	ChangedFields []string
}

// ChangeFeedRequest bounds one change-feed page fetch.
type ChangeFeedRequest struct {
	// Checkpoint is the caller-persisted opaque feed position.
	Checkpoint string
	MaxResults int
	Filters    FilterOptions
}

// ChangeFeedPage is one page of the change feed.
type ChangeFeedPage struct {
	Records []ChangeRecord
	// NextCheckpoint is the position to resume from. Empty means the
	// provider reported no advance; callers keep their previous checkpoint.
	NextCheckpoint string
	HasMore        bool
}

// ChangeFeedSource fetches pages of a provider's change feed.
type ChangeFeedSource interface {
	FetchChangeFeedPage(ctx context.Context, req ChangeFeedRequest) (ChangeFeedPage, error)
}

// EntityResolver hydrates a full entity from an id referenced by a change
// record. A (nil, nil) return means the entity no longer exists.
type EntityResolver[E any] interface {
	GetEntityByID(ctx context.Context, id string) (*E, error)
}

// EntityResolverFunc adapts a plain function to the EntityResolver interface.
type EntityResolverFunc[E any] func(ctx context.Context, id string) (*E, error)

func (f EntityResolverFunc[E]) GetEntityByID(ctx context.Context, id string) (*E, error) {
	return f(ctx, id)
}

// SyncResult is the outcome of one incremental sync pass.
type SyncResult[E any] struct {
	Added      []E
	DeletedIDs []string
	Updated    []E
	// NewCheckpoint comes from the feed page response, never from the
	// reconciled record set. Monotonically non-decreasing relative to the
	// input checkpoint.
	NewCheckpoint string
	HasMore       bool
}
