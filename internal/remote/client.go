package remote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/practivo/medsync/internal/store"
)

// DefaultBatchSize bounds the number of changes pushed per batch.
const DefaultBatchSize = 50

// PushResult is the outcome of pushing one change. Results are
// independent: a failure in one change never blocks its siblings.
type PushResult struct {
	// Change is the pending change this result belongs to.
	Change store.PendingChange

	// Prior is the remote row as it stood before the upsert, nil when the
	// record did not exist remotely. Conflict detection compares against
	// this snapshot.
	Prior *Record

	// Written is the row after the upsert; nil when Err is set.
	Written *Record

	// Err is non-nil when the push of this change failed. The change
	// stays unsynced and is retried on the next cycle.
	Err *PushError
}

// Success reports whether the change was confirmed written remotely.
func (r *PushResult) Success() bool { return r.Err == nil }

// PullResult is the outcome of pulling one table.
type PullResult struct {
	Table string

	// Records are all remote rows newer than the requested watermark.
	Records []Record

	// CompletedAt is taken after the select returned. Watermarks advance
	// to this time, not to the max row timestamp, so rows written
	// concurrently with the pull are still captured next cycle.
	CompletedAt time.Time

	// Err is non-nil when the pull failed; no partial rows are returned.
	Err *PullError
}

// PushChanges pushes pending changes to the remote store in batches of
// batchSize (DefaultBatchSize if <= 0) and returns one result per input
// change, in input order.
//
// Within a batch, changes for distinct records are upserted concurrently;
// changes for the same record run sequentially in queue order so a
// record's causal history is never reordered. Each upsert first reads the
// prior remote row so the caller can detect divergence.
func PushChanges(ctx context.Context, s Store, changes []store.PendingChange, batchSize int) []PushResult {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	results := make([]PushResult, len(changes))
	for i, change := range changes {
		results[i].Change = change
	}

	for start := 0; start < len(changes); start += batchSize {
		end := start + batchSize
		if end > len(changes) {
			end = len(changes)
		}
		pushBatch(ctx, s, changes[start:end], results[start:end])
	}

	return results
}

// pushBatch pushes one batch. Indices are grouped per record id; each
// group runs on its own goroutine, preserving per-record order.
func pushBatch(ctx context.Context, s Store, batch []store.PendingChange, results []PushResult) {
	groups := make(map[string][]int)
	var order []string
	for i, change := range batch {
		key := change.TableName + "/" + change.RecordID
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var wg sync.WaitGroup
	for _, key := range order {
		indices := groups[key]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, i := range indices {
				results[i] = pushOne(ctx, s, batch[i])
			}
		}()
	}
	wg.Wait()
}

// pushOne reads the prior remote row, then upserts the change payload.
func pushOne(ctx context.Context, s Store, change store.PendingChange) PushResult {
	result := PushResult{Change: change}

	prior, err := s.Get(ctx, change.TableName, change.RecordID)
	if err != nil {
		result.Err = &PushError{Code: CodePushFailed, Table: change.TableName, Err: err}
		return result
	}
	result.Prior = prior

	written, err := s.Upsert(ctx, change.TableName, change.RecordID, change.Payload)
	if err != nil {
		result.Err = &PushError{Code: CodePushFailed, Table: change.TableName, Err: err}
		return result
	}
	result.Written = written

	return result
}

// PullChanges selects all remote rows in table newer than since and
// records the completion time for conservative watermark advancement.
// A nil since pulls the table's full history.
func PullChanges(ctx context.Context, s Store, table string, since *time.Time) PullResult {
	result := PullResult{Table: table}

	from := time.Time{}
	if since != nil {
		from = *since
	}

	records, err := s.ChangedSince(ctx, table, from)
	result.CompletedAt = time.Now().UTC()
	if err != nil {
		result.Err = &PullError{Code: CodePullFailed, Table: table, Err: err}
		return result
	}

	result.Records = records
	return result
}

// ResolvePayload writes a conflict's winning payload to the remote store.
func ResolvePayload(ctx context.Context, s Store, table, recordID string, payload json.RawMessage) (*Record, error) {
	written, err := s.Upsert(ctx, table, recordID, payload)
	if err != nil {
		return nil, &ResolveError{Code: CodeResolveFailed, Table: table, Err: err}
	}
	return written, nil
}
