package engine

import (
	"context"
	"encoding/json"

	"github.com/practivo/medsync/internal/store"
)

// Syncer is the surface the sync engine exposes to callers: the daemon,
// the CLI, and application code queuing changes.
//
// Implementations run one sync cycle at a time; Sync returns
// ErrSyncInProgress when a cycle is already active rather than queueing
// or blocking. Conflict resolution may be called at any time, including
// while idle.
type Syncer interface {
	// QueueChange records a local mutation for the next sync cycle.
	//
	// The change is validated before persistence; a malformed change is
	// rejected with store.ErrInvalidChange and nothing is written.
	QueueChange(ctx context.Context, change store.Change) (*store.PendingChange, error)

	// Sync runs one complete cycle and reports what it pushed, pulled,
	// and recorded. Recorded conflicts are part of a successful report,
	// not an error.
	Sync(ctx context.Context) (*Report, error)

	// Resolve closes an open conflict with the chosen winning payload,
	// converging the remote store and the local mirror.
	Resolve(ctx context.Context, conflictID string, resolution store.Resolution, manual json.RawMessage) (*store.Conflict, error)

	// OpenConflicts lists all conflicts still awaiting resolution,
	// oldest first.
	OpenConflicts(ctx context.Context) ([]store.Conflict, error)

	// State returns a snapshot of the idle/syncing/error machine and
	// its counters.
	State() StateSnapshot

	// Stats returns the local store's aggregate counts.
	Stats(ctx context.Context) (*store.Stats, error)
}

// Orchestrator satisfies Syncer.
var _ Syncer = (*Orchestrator)(nil)
