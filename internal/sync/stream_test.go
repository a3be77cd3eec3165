package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves pages from a flat item list, honoring the requested
// page size. Cursors are stringified offsets, opaque to the code under
// test. failOn makes the n-th call (1-based) fail with err.
type fakeFetcher struct {
	items  []string
	calls  []PageRequest
	failOn int
	err    error
}

func (f *fakeFetcher) FetchPage(_ context.Context, req PageRequest) (PageResult[string], error) {
	f.calls = append(f.calls, req)
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return PageResult[string]{}, f.err
	}

	start := 0
	if req.Cursor != "" {
		start, _ = strconv.Atoi(req.Cursor)
	}
	end := start + req.PageSize
	if end > len(f.items) {
		end = len(f.items)
	}

	res := PageResult[string]{
		Items:         f.items[start:end],
		TotalEstimate: len(f.items),
	}
	if end < len(f.items) {
		res.NextCursor = strconv.Itoa(end)
	}
	return res, nil
}

func newFakeFetcher(n int) *fakeFetcher {
	f := &fakeFetcher{}
	for i := 0; i < n; i++ {
		f.items = append(f.items, fmt.Sprintf("msg-%d", i))
	}
	return f
}

func TestStreamYieldsOneBatchPerPage(t *testing.T) {
	// Feed with pages [2,2,1] and cursors c1,c2,null.
	fetcher := newFakeFetcher(5)

	st, err := NewStream[string](fetcher, StreamOptions{BatchSize: 2})
	require.NoError(t, err)

	var sizes []int
	var indexes []int
	for st.Next(context.Background()) {
		sizes = append(sizes, len(st.Batch().Items))
		indexes = append(indexes, st.Batch().Index)
	}

	require.NoError(t, st.Err())
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int{0, 1, 2}, indexes)
	assert.Len(t, fetcher.calls, 3)
}

func TestStreamOptionValidation(t *testing.T) {
	tests := []struct {
		name string
		opts StreamOptions
		ok   bool
	}{
		{name: "defaults", opts: StreamOptions{}, ok: true},
		{name: "explicit sizes", opts: StreamOptions{BatchSize: 10, MaxItems: 100}, ok: true},
		{name: "negative batch size", opts: StreamOptions{BatchSize: -1}, ok: false},
		{name: "negative max items", opts: StreamOptions{MaxItems: -5}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStream[string](newFakeFetcher(1), tt.opts)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			// Config errors fail before any fetch.
		})
	}
}

func TestStreamDefaultBatchSize(t *testing.T) {
	fetcher := newFakeFetcher(3)

	st, err := NewStream[string](fetcher, StreamOptions{})
	require.NoError(t, err)

	require.True(t, st.Next(context.Background()))
	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, DefaultBatchSize, fetcher.calls[0].PageSize)
}

func TestStreamMaxItemsBoundsRequests(t *testing.T) {
	fetcher := newFakeFetcher(10)

	st, err := NewStream[string](fetcher, StreamOptions{BatchSize: 2, MaxItems: 3})
	require.NoError(t, err)

	var total int
	for st.Next(context.Background()) {
		total += len(st.Batch().Items)
	}

	require.NoError(t, st.Err())
	assert.Equal(t, 3, total)
	// Second page request shrinks to the remaining budget.
	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, 2, fetcher.calls[0].PageSize)
	assert.Equal(t, 1, fetcher.calls[1].PageSize)
}

func TestStreamFetchErrorPropagatesUnmodified(t *testing.T) {
	injected := errors.New("boom")
	fetcher := newFakeFetcher(6)
	fetcher.failOn = 2
	fetcher.err = injected

	st, err := NewStream[string](fetcher, StreamOptions{BatchSize: 2})
	require.NoError(t, err)

	var total int
	for st.Next(context.Background()) {
		total += len(st.Batch().Items)
	}

	assert.Equal(t, 2, total)
	require.Error(t, st.Err())
	assert.True(t, errors.Is(st.Err(), injected))
	var fetchErr *FetchError
	assert.ErrorAs(t, st.Err(), &fetchErr)
	// No implicit retry.
	assert.Len(t, fetcher.calls, 2)
}

func TestStreamNotRestartable(t *testing.T) {
	fetcher := newFakeFetcher(2)

	st, err := NewStream[string](fetcher, StreamOptions{BatchSize: 5})
	require.NoError(t, err)

	for st.Next(context.Background()) {
	}
	require.NoError(t, st.Err())

	assert.False(t, st.Next(context.Background()))
	assert.Len(t, fetcher.calls, 1)
}

func TestRunWithCallbacksSummary(t *testing.T) {
	fetcher := newFakeFetcher(5)

	var batches int
	summary, err := RunWithCallbacks[string](context.Background(), fetcher, StreamOptions{BatchSize: 2}, Callbacks[string]{
		OnBatch: func(b Batch[string]) error {
			batches++
			return nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, batches)
	assert.Equal(t, 5, summary.TotalProcessed)
	assert.Equal(t, 3, summary.TotalBatches)
	assert.Equal(t, 0, summary.Errors)
	assert.False(t, summary.EndedAt.Before(summary.StartedAt))
}

func TestRunWithCallbacksBatchErrorStopsWithoutOnError(t *testing.T) {
	fetcher := newFakeFetcher(6)
	batchErr := errors.New("handler failed")

	var completed []Summary
	summary, err := RunWithCallbacks[string](context.Background(), fetcher, StreamOptions{BatchSize: 2}, Callbacks[string]{
		OnBatch: func(b Batch[string]) error {
			if b.Index == 1 {
				return batchErr
			}
			return nil
		},
		OnComplete: func(s Summary) {
			completed = append(completed, s)
		},
	})

	require.ErrorIs(t, err, batchErr)
	assert.Equal(t, 2, summary.TotalProcessed)
	// OnComplete fires exactly once even on failure.
	require.Len(t, completed, 1)
	assert.Equal(t, 2, completed[0].TotalProcessed)
}

func TestRunWithCallbacksContinuesPastFailedBatch(t *testing.T) {
	// onBatch fails on batch 2 of 3 with onError registered: the run
	// continues, errors == 1 and batch 2's items are excluded entirely.
	fetcher := newFakeFetcher(5)
	batchErr := errors.New("handler failed")

	var observed []error
	var completed int
	summary, err := RunWithCallbacks[string](context.Background(), fetcher, StreamOptions{BatchSize: 2}, Callbacks[string]{
		OnBatch: func(b Batch[string]) error {
			if b.Index == 1 {
				return batchErr
			}
			return nil
		},
		OnError: func(e error) {
			observed = append(observed, e)
		},
		OnComplete: func(Summary) {
			completed++
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 3, summary.TotalProcessed) // batches 1 and 3 only
	assert.Equal(t, 2, summary.TotalBatches)
	require.Len(t, observed, 1)
	assert.ErrorIs(t, observed[0], batchErr)
	assert.Equal(t, 1, completed)
}

func TestRunWithCallbacksOnCompleteAfterFetchFailure(t *testing.T) {
	fetcher := newFakeFetcher(6)
	fetcher.failOn = 2
	fetcher.err = errors.New("network down")

	var completed int
	summary, err := RunWithCallbacks[string](context.Background(), fetcher, StreamOptions{BatchSize: 2}, Callbacks[string]{
		OnComplete: func(Summary) { completed++ },
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, fetcher.err))
	assert.Equal(t, 2, summary.TotalProcessed)
	assert.Equal(t, 1, completed)
}

func TestRunWithCallbacksProgress(t *testing.T) {
	fetcher := newFakeFetcher(5)

	var progress []Progress
	_, err := RunWithCallbacks[string](context.Background(), fetcher, StreamOptions{BatchSize: 2}, Callbacks[string]{
		OnProgress: func(p Progress) {
			progress = append(progress, p)
		},
	})
	require.NoError(t, err)

	require.Len(t, progress, 3)
	assert.Equal(t, Progress{Current: 2, Total: 5, BatchCount: 1, EstimatedRemaining: 3}, progress[0])
	assert.Equal(t, Progress{Current: 4, Total: 5, BatchCount: 2, EstimatedRemaining: 1}, progress[1])
	assert.Equal(t, Progress{Current: 5, Total: 5, BatchCount: 3, EstimatedRemaining: 0}, progress[2])
}
