package sync

import (
	"context"
	"iter"
)

// PaginatorOptions configures a Paginator.
type PaginatorOptions struct {
	// PageSize defaults to DefaultBatchSize; negative values are rejected.
	PageSize int
	Filters  FilterOptions
}

func (o *PaginatorOptions) validate() error {
	if o.PageSize < 0 {
		return &ConfigError{Field: "PageSize", Reason: "must be > 0"}
	}
	if o.PageSize == 0 {
		o.PageSize = DefaultBatchSize
	}
	return nil
}

// State is the navigation state of a Paginator. One State exists per
// logical query and persists until an explicit FirstPage reset.
type State struct {
	// CurrentCursor is the opaque cursor of the current page; empty on the
	// first page.
	CurrentCursor string
	// History is a LIFO stack of cursors. It grows only on forward
	// navigation and shrinks strictly on backward navigation.
	History      []string
	CurrentPage int
	PageSize    int
	// TotalFetched counts items fetched through the furthest page reached.
	// Backward navigation and re-fetches do not count again.
	TotalFetched int
	Filters      FilterOptions
}

// Page is one fetched page plus derived navigation metadata.
type Page[T any] struct {
	Items        []T
	PageNumber   int
	TotalFetched int

	HasNextPage     bool
	HasPreviousPage bool
	IsFirstPage     bool
	IsLastPage      bool

	// TotalEstimate is the provider's estimate of the full result set;
	// zero when unknown.
	TotalEstimate int
	// EstimatedTotalPages is ceil(TotalEstimate/PageSize) when the
	// estimate is known, zero otherwise.
	EstimatedTotalPages int
}

// Paginator wraps a PageFetcher with stateful cursor navigation:
// forward/back/reset, fetch-all up to a limit, and lazy full-dataset
// iteration. Navigation errors (ErrNoNextPage, ErrNoPreviousPage) are
// local and non-retryable; fetch errors propagate unmodified and leave the
// navigation state as it was before the call.
type Paginator[T any] struct {
	fetcher PageFetcher[T]
	state   State
	// last is the most recent PageResult; nil before the first fetch.
	last *PageResult[T]
	// furthestPage is the highest page number fetched since the last reset,
	// so revisited pages do not inflate TotalFetched.
	furthestPage int
}

// NewPaginator creates a paginator positioned at page 1 with no cursor.
func NewPaginator[T any](fetcher PageFetcher[T], opts PaginatorOptions) (*Paginator[T], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Paginator[T]{
		fetcher: fetcher,
		state: State{
			CurrentPage: 1,
			PageSize:    opts.PageSize,
			Filters:     opts.Filters,
		},
	}, nil
}

// State returns a copy of the current navigation state. The history slice
// is copied so callers cannot mutate the stack.
func (p *Paginator[T]) State() State {
	st := p.state
	st.History = append([]string(nil), p.state.History...)
	return st
}

// FetchCurrentPage re-fetches the page at the current cursor. It never
// mutates navigation history.
func (p *Paginator[T]) FetchCurrentPage(ctx context.Context) (*Page[T], error) {
	result, err := p.fetcher.FetchPage(ctx, PageRequest{
		Cursor:   p.state.CurrentCursor,
		PageSize: p.state.PageSize,
		Filters:  p.state.Filters,
	})
	if err != nil {
		return nil, &FetchError{Op: "fetch page", Err: err}
	}
	p.last = &result
	if p.state.CurrentPage > p.furthestPage {
		p.furthestPage = p.state.CurrentPage
		p.state.TotalFetched += len(result.Items)
	}
	return p.page(result), nil
}

// NextPage advances to the next page and fetches it. The last fetch must
// have reported a next cursor, otherwise ErrNoNextPage. On fetch failure
// the prior position is restored.
func (p *Paginator[T]) NextPage(ctx context.Context) (*Page[T], error) {
	if p.last == nil || p.last.NextCursor == "" {
		return nil, ErrNoNextPage
	}

	prevCursor := p.state.CurrentCursor
	p.state.History = append(p.state.History, prevCursor)
	p.state.CurrentCursor = p.last.NextCursor
	p.state.CurrentPage++

	page, err := p.FetchCurrentPage(ctx)
	if err != nil {
		p.state.History = p.state.History[:len(p.state.History)-1]
		p.state.CurrentCursor = prevCursor
		p.state.CurrentPage--
		return nil, err
	}
	return page, nil
}

// PreviousPage pops the cursor stack and fetches the prior page. With an
// empty history it returns ErrNoPreviousPage and leaves state untouched.
// On fetch failure the position is restored.
func (p *Paginator[T]) PreviousPage(ctx context.Context) (*Page[T], error) {
	if len(p.state.History) == 0 {
		return nil, ErrNoPreviousPage
	}

	prevCursor := p.state.CurrentCursor
	top := len(p.state.History) - 1
	p.state.CurrentCursor = p.state.History[top]
	p.state.History = p.state.History[:top]
	p.state.CurrentPage--

	page, err := p.FetchCurrentPage(ctx)
	if err != nil {
		p.state.History = append(p.state.History, p.state.CurrentCursor)
		p.state.CurrentCursor = prevCursor
		p.state.CurrentPage++
		return nil, err
	}
	return page, nil
}

// FirstPage resets navigation to page 1: empty history, no cursor, zero
// TotalFetched. It does not fetch.
func (p *Paginator[T]) FirstPage() {
	p.state.CurrentCursor = ""
	p.state.History = nil
	p.state.CurrentPage = 1
	p.state.TotalFetched = 0
	p.last = nil
	p.furthestPage = 0
}

// FetchAll resets to page 1 and aggregates pages until the feed is
// exhausted or maxItems is reached (0 = unlimited), truncating to exactly
// maxItems. The returned page always reports no further pages, independent
// of the provider's true remaining state.
func (p *Paginator[T]) FetchAll(ctx context.Context, maxItems int) (*Page[T], error) {
	if maxItems < 0 {
		return nil, &ConfigError{Field: "maxItems", Reason: "must be > 0 when set"}
	}

	p.FirstPage()

	var items []T
	page, err := p.FetchCurrentPage(ctx)
	for {
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)

		if maxItems > 0 && len(items) >= maxItems {
			items = items[:maxItems]
			break
		}
		if !page.HasNextPage {
			break
		}
		page, err = p.NextPage(ctx)
	}

	p.state.TotalFetched = len(items)
	return &Page[T]{
		Items:        items,
		PageNumber:   1,
		TotalFetched: len(items),
		IsFirstPage:  true,
		IsLastPage:   true,
	}, nil
}

// IterateAll lazily yields per-page results starting from the current
// position. The sequence is restartable only via an explicit FirstPage.
// Iteration stops at the first error, which is yielded with a nil page.
func (p *Paginator[T]) IterateAll(ctx context.Context) iter.Seq2[*Page[T], error] {
	return func(yield func(*Page[T], error) bool) {
		page, err := p.FetchCurrentPage(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if !yield(page, nil) {
			return
		}
		for page.HasNextPage {
			page, err = p.NextPage(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// page derives navigation metadata for the current result.
func (p *Paginator[T]) page(result PageResult[T]) *Page[T] {
	out := &Page[T]{
		Items:           result.Items,
		PageNumber:      p.state.CurrentPage,
		TotalFetched:    p.state.TotalFetched,
		HasNextPage:     result.NextCursor != "",
		HasPreviousPage: len(p.state.History) > 0,
		IsFirstPage:     p.state.CurrentPage == 1,
	}
	out.IsLastPage = !out.HasNextPage
	if result.TotalEstimate > 0 {
		out.TotalEstimate = result.TotalEstimate
		out.EstimatedTotalPages = (result.TotalEstimate + p.state.PageSize - 1) / p.state.PageSize
	}
	return out
}
