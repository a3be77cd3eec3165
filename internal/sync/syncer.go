package sync

import "context"

// DefaultMaxResults bounds one change-feed page when SyncOptions.MaxResults
// is left zero.
const DefaultMaxResults = 100

// SyncOptions configures one ProcessSync pass.
type SyncOptions struct {
	// MaxResults bounds the change-feed page. Defaults to
	// DefaultMaxResults; negative values are rejected.
	MaxResults int
	Filters    FilterOptions
}

func (o *SyncOptions) validate() error {
	if o.MaxResults < 0 {
		return &ConfigError{Field: "MaxResults", Reason: "must be > 0 when set"}
	}
	if o.MaxResults == 0 {
		o.MaxResults = DefaultMaxResults
	}
	return nil
}

// Syncer drives one incremental-sync pass against a provider change feed:
// fetch one feed page, reconcile, hydrate, return the structured result
// plus the next checkpoint. Checkpoint persistence is the caller's job.
type Syncer[E any] struct {
	feed     ChangeFeedSource
	resolver EntityResolver[E]
}

// NewSyncer creates a syncer over an injected feed and resolver.
func NewSyncer[E any](feed ChangeFeedSource, resolver EntityResolver[E]) *Syncer[E] {
	return &Syncer[E]{feed: feed, resolver: resolver}
}

// ProcessSync runs one pass from startCheckpoint. An empty checkpoint is
// rejected with ErrMissingCheckpoint before any fetch. A checkpoint the
// provider reports as expired surfaces as *StaleCheckpointError from the
// feed, passed through unmodified; the caller's recovery is a re-baseline,
// not a retry.
func (s *Syncer[E]) ProcessSync(ctx context.Context, startCheckpoint string, opts SyncOptions) (*SyncResult[E], error) {
	if startCheckpoint == "" {
		return nil, ErrMissingCheckpoint
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	page, err := s.feed.FetchChangeFeedPage(ctx, ChangeFeedRequest{
		Checkpoint: startCheckpoint,
		MaxResults: opts.MaxResults,
		Filters:    opts.Filters,
	})
	if err != nil {
		return nil, err
	}

	buckets := Reconcile(page.Records)

	added, updated, err := Hydrate(ctx, buckets, s.resolver)
	if err != nil {
		return nil, err
	}

	// The checkpoint always comes from the feed page itself, never from
	// the reconciled records. An empty page checkpoint keeps the input
	// checkpoint so the position never moves backward.
	next := page.NextCheckpoint
	if next == "" {
		next = startCheckpoint
	}

	return &SyncResult[E]{
		Added:         added,
		DeletedIDs:    buckets.DeletedIDs,
		Updated:       updated,
		NewCheckpoint: next,
		HasMore:       page.HasMore,
	}, nil
}
