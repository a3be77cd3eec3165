package sync

import (
	"errors"
	"fmt"
)

// Navigation and precondition sentinels. Local usage errors, never
// retryable; match with errors.Is.
var (
	ErrNoNextPage        = errors.New("no next page available")
	ErrNoPreviousPage    = errors.New("no previous page available")
	ErrMissingCheckpoint = errors.New("start checkpoint is required")
)

// ErrEntityGone reports an updated entity that no longer resolves. Unlike
// a missing added entity (silently dropped), a missing updated entity
// aborts the hydration pass.
var ErrEntityGone = errors.New("entity no longer exists")

// ConfigError reports invalid options. It always fails before any fetch.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

// FetchError wraps whatever the injected fetcher returned. The underlying
// error is propagated unmodified through Unwrap; the core never retries.
type FetchError struct {
	Op  string // which remote call failed, e.g. "fetch page"
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StaleCheckpointError reports a checkpoint the provider can no longer
// resolve. Distinguished from a plain fetch failure because recovery is a
// re-baseline from a fresh checkpoint, not a retry. Provider adapters raise
// it; the core passes it through unchanged.
type StaleCheckpointError struct {
	Checkpoint string
	Err        error
}

func (e *StaleCheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %q is stale: %v", e.Checkpoint, e.Err)
}

func (e *StaleCheckpointError) Unwrap() error {
	return e.Err
}

// HydrationError reports a failure while resolving one changed entity. It
// aborts the remainder of the current reconciliation pass.
type HydrationError struct {
	EntityID string
	Err      error
}

func (e *HydrationError) Error() string {
	return fmt.Sprintf("hydrate entity %s: %v", e.EntityID, e.Err)
}

func (e *HydrationError) Unwrap() error {
	return e.Err
}
