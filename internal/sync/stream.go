package sync

import (
	"context"
	"time"
)

// DefaultBatchSize is used when StreamOptions.BatchSize is left zero.
const DefaultBatchSize = 50

// StreamOptions configures a Stream.
type StreamOptions struct {
	// BatchSize is the page size requested from the provider. Defaults to
	// DefaultBatchSize; negative values are rejected.
	BatchSize int
	// MaxItems caps the total number of items yielded. Zero means
	// unlimited; negative values are rejected.
	MaxItems int
	Filters  FilterOptions
}

func (o *StreamOptions) validate() error {
	if o.BatchSize < 0 {
		return &ConfigError{Field: "BatchSize", Reason: "must be > 0"}
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxItems < 0 {
		return &ConfigError{Field: "MaxItems", Reason: "must be > 0 when set"}
	}
	return nil
}

// Batch is one unit of yielded items, corresponding 1:1 to one provider
// page fetch. Batches are never re-split or merged across page boundaries.
type Batch[T any] struct {
	Items []T
	// Index is the zero-based position of this batch in the stream.
	Index int
}

// Progress reports stream position after a delivered batch.
type Progress struct {
	// Current is the number of items delivered so far.
	Current int
	// Total is the provider's estimate of the full result set; zero when
	// unknown.
	Total      int
	BatchCount int
	// EstimatedRemaining is Total-Current when Total is known, else zero.
	EstimatedRemaining int
}

// Summary describes a completed RunWithCallbacks pass. TotalProcessed
// counts only items in batches actually delivered to the caller; dropped
// batches show up in Errors instead.
type Summary struct {
	TotalProcessed int
	TotalBatches   int
	Errors         int
	StartedAt      time.Time
	EndedAt        time.Time
	Duration       time.Duration
}

// Stream turns a PageFetcher into a bounded-memory lazy sequence of
// batches. Usage follows the bufio.Scanner idiom:
//
//	st, err := NewStream(fetcher, opts)
//	for st.Next(ctx) {
//		batch := st.Batch()
//		...
//	}
//	if err := st.Err(); err != nil { ... }
//
// A Stream is finite, pull-based and not restartable once started. Exactly
// one fetch is in flight at a time; a fetch failure surfaces through Err
// with no implicit retry.
type Stream[T any] struct {
	fetcher PageFetcher[T]
	opts    StreamOptions

	cursor        string
	batch         Batch[T]
	batchCount    int
	processed     int
	totalEstimate int
	done          bool
	err           error
}

// NewStream validates options and prepares a lazy stream. No fetch happens
// until the first Next call.
func NewStream[T any](fetcher PageFetcher[T], opts StreamOptions) (*Stream[T], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Stream[T]{fetcher: fetcher, opts: opts}, nil
}

// Next fetches the next provider page and makes it available via Batch.
// It returns false when the stream is exhausted or failed.
func (s *Stream[T]) Next(ctx context.Context) bool {
	if s.done || s.err != nil {
		return false
	}
	remaining := 0
	if s.opts.MaxItems > 0 {
		remaining = s.opts.MaxItems - s.processed
		if remaining <= 0 {
			s.done = true
			return false
		}
	}

	if err := ctx.Err(); err != nil {
		s.err = err
		return false
	}

	size := s.opts.BatchSize
	if remaining > 0 && remaining < size {
		size = remaining
	}

	page, err := s.fetcher.FetchPage(ctx, PageRequest{
		Cursor:   s.cursor,
		PageSize: size,
		Filters:  s.opts.Filters,
	})
	if err != nil {
		s.err = &FetchError{Op: "fetch page", Err: err}
		return false
	}

	if page.TotalEstimate > 0 {
		s.totalEstimate = page.TotalEstimate
	}

	items := page.Items
	if len(items) == 0 {
		s.done = true
		return false
	}
	if remaining > 0 && len(items) > remaining {
		items = items[:remaining]
	}

	s.batch = Batch[T]{Items: items, Index: s.batchCount}
	s.batchCount++
	s.processed += len(items)
	s.cursor = page.NextCursor

	if s.cursor == "" || (s.opts.MaxItems > 0 && s.processed >= s.opts.MaxItems) {
		s.done = true
	}
	return true
}

// Batch returns the batch made available by the last successful Next call.
func (s *Stream[T]) Batch() Batch[T] {
	return s.batch
}

// Err returns the first error encountered by the stream, unwrapping to the
// injected fetcher's original error via errors.Is/As.
func (s *Stream[T]) Err() error {
	return s.err
}

// TotalEstimate returns the provider's most recent estimate of the full
// result set size, zero when unknown.
func (s *Stream[T]) TotalEstimate() int {
	return s.totalEstimate
}

// Callbacks receives stream events. All callbacks are invoked synchronously
// inside the pull loop, in feed order; none may be called concurrently.
type Callbacks[T any] struct {
	// OnBatch handles one delivered batch. A non-nil return drops the
	// batch: with OnError registered the run continues past it, otherwise
	// the run stops and the error is returned.
	OnBatch func(Batch[T]) error
	// OnProgress is invoked after every delivered batch.
	OnProgress func(Progress)
	// OnError observes batch failures that the run recovers from.
	OnError func(error)
	// OnComplete fires exactly once per run, failure or not, with the
	// accumulated summary.
	OnComplete func(Summary)
}

// RunWithCallbacks drives a stream to completion, reporting through cb.
// The returned Summary is always non-nil once options validate.
func RunWithCallbacks[T any](ctx context.Context, fetcher PageFetcher[T], opts StreamOptions, cb Callbacks[T]) (*Summary, error) {
	st, err := NewStream(fetcher, opts)
	if err != nil {
		return nil, err
	}

	summary := &Summary{StartedAt: time.Now()}
	defer func() {
		summary.EndedAt = time.Now()
		summary.Duration = summary.EndedAt.Sub(summary.StartedAt)
		if cb.OnComplete != nil {
			cb.OnComplete(*summary)
		}
	}()

	for st.Next(ctx) {
		batch := st.Batch()

		if cb.OnBatch != nil {
			if batchErr := cb.OnBatch(batch); batchErr != nil {
				if cb.OnError == nil {
					return summary, batchErr
				}
				// Recovered: the batch is dropped entirely, its items are
				// excluded from TotalProcessed.
				cb.OnError(batchErr)
				summary.Errors++
				continue
			}
		}

		summary.TotalProcessed += len(batch.Items)
		summary.TotalBatches++

		if cb.OnProgress != nil {
			p := Progress{
				Current:    summary.TotalProcessed,
				Total:      st.TotalEstimate(),
				BatchCount: summary.TotalBatches,
			}
			if p.Total > p.Current {
				p.EstimatedRemaining = p.Total - p.Current
			}
			cb.OnProgress(p)
		}
	}

	if err := st.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}
