package engine

import (
	"context"
	"fmt"

	"github.com/practivo/medsync/internal/fingerprint"
	"github.com/practivo/medsync/internal/remote"
	"github.com/practivo/medsync/internal/store"
)

// detectConflict compares a pushed change against the remote row as it
// stood before the push. When both sides had prior data and the
// fingerprints differ, a conflict is recorded with both snapshots
// preserved verbatim; the detector never merges or guesses.
//
// A nil prior means the record did not exist remotely: the push simply
// created it, which is not a divergence. Matching fingerprints mean the
// same content reached both sides independently, also not a divergence.
//
// Returns true when a conflict was recorded.
func (o *Orchestrator) detectConflict(ctx context.Context, change store.PendingChange, prior *remote.Record) (bool, error) {
	if prior == nil {
		return false, nil
	}

	equal, err := fingerprint.Equal(change.Payload, prior.Data)
	if err != nil {
		// A snapshot that cannot be fingerprinted cannot be ruled equal;
		// record the divergence rather than lose it.
		o.logger.Printf("WARNING: fingerprint failed for %s/%s: %v (recording conflict)",
			change.TableName, change.RecordID, err)
		equal = false
	}
	if equal {
		return false, nil
	}

	conflict := store.Conflict{
		SyncLogID:  change.ID,
		TableName:  change.TableName,
		RecordID:   change.RecordID,
		LocalData:  change.Payload,
		RemoteData: prior.Data,
	}

	if err := o.store.AddConflict(ctx, &conflict); err != nil {
		return false, fmt.Errorf("failed to record conflict: %w", err)
	}

	o.logger.Printf("Conflict recorded for %s/%s (%s)",
		conflict.TableName, conflict.RecordID, conflict.ID)
	o.events.ConflictDetected(conflict)

	return true, nil
}
