package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/practivo/medsync/internal/remote"
	"github.com/practivo/medsync/internal/store"
)

// Resolve closes an open conflict by choosing a winning payload and
// converging both stores on it.
//
// LOCAL keeps the conflict's stored local snapshot, REMOTE its remote
// snapshot, and MANUAL the caller-supplied payload (required, otherwise
// store.ErrMissingManualPayload).
//
// The winning payload is upserted to the remote store first, then the
// conflict is closed and the local mirror updated in one local
// transaction. A crash between the two leaves the conflict open with
// remote and local content already matching; the next cycle's detector
// sees equal fingerprints and records nothing, so the state heals
// without a duplicate conflict.
//
// Returns store.ErrConflictNotFound for an unknown id and
// store.ErrConflictResolved when the conflict is already closed;
// resolution history is immutable.
func (o *Orchestrator) Resolve(ctx context.Context, conflictID string, resolution store.Resolution, manual json.RawMessage) (*store.Conflict, error) {
	conflict, err := o.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if !conflict.Open() {
		return nil, fmt.Errorf("%w: %s", store.ErrConflictResolved, conflictID)
	}

	var winning json.RawMessage
	switch resolution {
	case store.ResolutionLocal:
		winning = conflict.LocalData
	case store.ResolutionRemote:
		winning = conflict.RemoteData
	case store.ResolutionManual:
		if len(manual) == 0 {
			return nil, fmt.Errorf("%w: conflict %s", store.ErrMissingManualPayload, conflictID)
		}
		winning = manual
	default:
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidResolution, resolution)
	}

	if _, err := remote.ResolvePayload(ctx, o.remote, conflict.TableName, conflict.RecordID, winning); err != nil {
		return nil, err
	}

	resolved, err := o.store.ResolveConflict(ctx, conflictID, resolution, winning)
	if err != nil {
		return nil, err
	}

	o.logger.Printf("Conflict %s resolved (%s) for %s/%s",
		conflictID, resolution, resolved.TableName, resolved.RecordID)
	o.events.ConflictResolved(*resolved)
	o.refreshCounts(ctx)

	return resolved, nil
}
