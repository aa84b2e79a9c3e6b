package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIntegrity is returned when a stored payload no longer matches its
	// recorded checksum.
	ErrIntegrity = errors.New("cache: payload checksum mismatch")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache: closed")
)

// CapacityError reports a payload that cannot fit even an empty cache.
// No amount of eviction helps; the caller must raise the budget or reject
// the artifact.
type CapacityError struct {
	Size  int64
	Limit int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("cache: payload of %d bytes exceeds max size %d", e.Size, e.Limit)
}

// BackendUnavailableError reports that the preferred backend could not
// initialize. The cache recovers by falling back to the in-memory variant
// for the rest of the process lifetime.
type BackendUnavailableError struct {
	Kind StorageKind
	Err  error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("cache: %s backend unavailable: %v", e.Kind, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// StorageBackend is the uniform persistence contract shared by the three
// variants. Get on an absent id returns (nil, false, nil), not an error.
// Put overwrites silently; the new entry fully replaces the old one's
// metadata. Delete of an absent id is a successful no-op.
type StorageBackend interface {
	Put(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, bool, error)
	Delete(ctx context.Context, id string) error
	// List returns a finite snapshot of all live entries, payloads included.
	List(ctx context.Context) ([]*Entry, error)
	Close() error
}

// Toucher is implemented by backends that can update LastAccessedAt in
// place, without rewriting the payload.
type Toucher interface {
	Touch(ctx context.Context, id string, at time.Time) error
}

// AccessOrderedLister is implemented by backends that maintain a secondary
// index on LastAccessedAt, so eviction candidates come back already ordered
// oldest-accessed first.
type AccessOrderedLister interface {
	ListByAccess(ctx context.Context) ([]*Entry, error)
}

// StatsSlot is a small persisted record for telemetry counters, so a process
// restart resumes with its historical hit rate. Backends may carry the slot
// natively; otherwise a file-based slot is used.
type StatsSlot interface {
	LoadStats(ctx context.Context) (Stats, bool, error)
	SaveStats(ctx context.Context, s Stats) error
}
