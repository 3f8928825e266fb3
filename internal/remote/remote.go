package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Record is one row of a syncable remote table.
type Record struct {
	// ID is the stable record identifier.
	ID string `json:"id"`

	// Data is the full record snapshot, serialized. The sync core never
	// interprets it beyond fingerprinting.
	Data json.RawMessage `json:"data"`

	// UpdatedAt is the remote modification timestamp used to bound pulls.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the minimal contract every remote backend must satisfy.
// Every syncable table is keyed by a stable id column and carries an
// updated_at timestamp; Upsert must be atomic (last write wins at the
// storage layer).
type Store interface {
	// Get returns the current row for a record, or nil if it does not exist.
	Get(ctx context.Context, table, id string) (*Record, error)

	// Upsert inserts or replaces a record and returns the written row.
	Upsert(ctx context.Context, table, id string, data json.RawMessage) (*Record, error)

	// ChangedSince returns all rows in table with updated_at > since,
	// ordered by updated_at ascending.
	ChangedSince(ctx context.Context, table string, since time.Time) ([]Record, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// Error codes carried by PushError, PullError and ResolveError.
const (
	CodePushFailed    = "PUSH_FAILED"
	CodePullFailed    = "PULL_FAILED"
	CodeResolveFailed = "RESOLVE_FAILED"
	CodeBadTable      = "BAD_TABLE_NAME"
)

// PushError reports a failed upsert for a single change.
// Sibling changes in the same batch are unaffected.
type PushError struct {
	Code  string
	Table string
	Err   error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push %s on %s: %v", e.Code, e.Table, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// PullError reports a failed pull for a table. No partial rows are
// returned alongside a PullError.
type PullError struct {
	Code  string
	Table string
	Err   error
}

func (e *PullError) Error() string {
	return fmt.Sprintf("pull %s on %s: %v", e.Code, e.Table, e.Err)
}

func (e *PullError) Unwrap() error { return e.Err }

// ResolveError reports a failed remote write during conflict resolution.
type ResolveError struct {
	Code  string
	Table string
	Err   error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s on %s: %v", e.Code, e.Table, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ErrUnknownDriver is returned by Open for an unrecognized backend name.
var ErrUnknownDriver = errors.New("unknown remote driver")
