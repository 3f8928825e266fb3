package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/practivo/medsync/internal/remote"
	"github.com/practivo/medsync/internal/store"
)

// DefaultTables is the table set synced when none is configured.
var DefaultTables = []string{"practices", "patients", "appointments"}

// Options configures an Orchestrator.
type Options struct {
	// Tables is the set of logical tables pulled each cycle.
	// Defaults to DefaultTables.
	Tables []string

	// BatchSize bounds each push batch. Defaults to
	// remote.DefaultBatchSize.
	BatchSize int

	// Logger for cycle activity. Defaults to a stderr logger.
	Logger *log.Logger

	// Events receives sync notifications. Defaults to a no-op sink.
	Events Events
}

// Report summarizes one completed sync cycle.
type Report struct {
	// Pushed is the number of changes confirmed written remotely.
	Pushed int

	// Failed is the number of changes whose push failed; they stay
	// queued and are retried next cycle.
	Failed int

	// Conflicts is the number of new divergences recorded this cycle.
	Conflicts int

	// Pulled holds the remote rows fetched per table.
	Pulled map[string][]remote.Record

	// Pending is the number of unsynced changes remaining after the
	// cycle; the caller decides retry cadence from it.
	Pending int

	// OpenConflicts is the total number of unresolved conflicts after
	// the cycle, including ones recorded by earlier cycles.
	OpenConflicts int
}

// PulledCount returns the total number of rows pulled across tables.
func (r *Report) PulledCount() int {
	n := 0
	for _, records := range r.Pulled {
		n += len(records)
	}
	return n
}

// Orchestrator drives complete sync cycles against one local store and
// one remote backend. Create one per local store; concurrent Sync calls
// on the same instance are rejected with ErrSyncInProgress.
type Orchestrator struct {
	store     *store.Store
	remote    remote.Store
	state     *State
	tables    []string
	batchSize int
	logger    *log.Logger
	events    Events
}

// New creates an Orchestrator. opts may be nil for defaults.
func New(st *store.Store, rs remote.Store, opts *Options) *Orchestrator {
	if opts == nil {
		opts = &Options{}
	}

	tables := opts.Tables
	if len(tables) == 0 {
		tables = DefaultTables
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = remote.DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	events := opts.Events
	if events == nil {
		events = nopEvents{}
	}

	return &Orchestrator{
		store:     st,
		remote:    rs,
		state:     NewState(),
		tables:    tables,
		batchSize: batchSize,
		logger:    logger,
		events:    events,
	}
}

// State returns a snapshot of the orchestrator state.
func (o *Orchestrator) State() StateSnapshot {
	return o.state.Snapshot()
}

// Stats returns the local store's aggregate counts.
func (o *Orchestrator) Stats(ctx context.Context) (*store.Stats, error) {
	return o.store.Stats(ctx)
}

// QueueChange validates and enqueues a local mutation for the next sync
// cycle.
func (o *Orchestrator) QueueChange(ctx context.Context, change store.Change) (*store.PendingChange, error) {
	pending, err := o.store.QueueChange(ctx, change)
	if err != nil {
		return nil, err
	}

	o.refreshCounts(ctx)
	return pending, nil
}

// OpenConflicts lists all unresolved conflicts.
func (o *Orchestrator) OpenConflicts(ctx context.Context) ([]store.Conflict, error) {
	return o.store.OpenConflicts(ctx)
}

// Sync runs one complete cycle: drain and push the queue, record
// conflicts, pull remote changes per table, and advance watermarks.
//
// Per-change push failures and recorded conflicts are expected outcomes;
// the cycle still succeeds and reports them. Only an unrecoverable
// failure (local store unreachable) aborts the cycle, transitions the
// state to error, and is returned. Previously-synced changes are never
// regressed either way.
func (o *Orchestrator) Sync(ctx context.Context) (*Report, error) {
	if err := o.state.beginSync(); err != nil {
		return nil, err
	}

	o.events.SyncStarted()
	start := time.Now()

	report, err := o.cycle(ctx)
	o.state.endSync(err)
	if err != nil {
		o.logger.Printf("Sync cycle aborted: %v", err)
		return nil, err
	}

	o.events.SyncCompleted(report, time.Since(start))
	o.logger.Printf("Sync complete: pushed=%d failed=%d conflicts=%d pulled=%d pending=%d",
		report.Pushed, report.Failed, report.Conflicts, report.PulledCount(), report.Pending)

	return report, nil
}

// cycle executes the body of one sync run while the state is syncing.
func (o *Orchestrator) cycle(ctx context.Context) (*Report, error) {
	report := &Report{Pulled: make(map[string][]remote.Record)}

	// 1. Drain and push
	changes, err := o.store.Unsynced(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to drain queue: %w", err)
	}

	if len(changes) > 0 {
		o.logger.Printf("Pushing %d pending changes", len(changes))
	}
	results := remote.PushChanges(ctx, o.remote, changes, o.batchSize)

	// 2. Apply push results: mark exactly the successful subset synced
	// and run conflict detection against the pre-push remote state.
	// Failed changes stay queued for the next cycle.
	for i := range results {
		result := &results[i]
		if !result.Success() {
			report.Failed++
			o.logger.Printf("WARNING: push failed for %s/%s: %v (will retry)",
				result.Change.TableName, result.Change.RecordID, result.Err)
			continue
		}

		if err := o.store.MarkSynced(ctx, result.Change.ID); err != nil {
			return nil, fmt.Errorf("failed to mark change synced: %w", err)
		}
		report.Pushed++

		recorded, err := o.detectConflict(ctx, result.Change, result.Prior)
		if err != nil {
			return nil, err
		}
		if recorded {
			report.Conflicts++
		}
	}

	// 3-4. Pull per table and advance watermarks conservatively
	for _, table := range o.tables {
		if err := o.pullTable(ctx, table, report); err != nil {
			return nil, err
		}
	}

	// 5. Refresh counters for the exit state
	stats, err := o.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	report.Pending = stats.PendingChanges
	report.OpenConflicts = stats.OpenConflicts
	o.state.setCounts(stats.PendingChanges, stats.OpenConflicts)

	return report, nil
}

// pullTable pulls one table since its watermark, mirrors the rows
// locally, and advances the watermark to the pull's completion time.
// A failed pull is logged and skipped; the watermark stays put so the
// next cycle retries the same window.
func (o *Orchestrator) pullTable(ctx context.Context, table string, report *Report) error {
	since, err := o.store.Watermark(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	result := remote.PullChanges(ctx, o.remote, table, since)
	if result.Err != nil {
		o.logger.Printf("WARNING: pull failed for %s: %v (watermark unchanged)", table, result.Err)
		return nil
	}

	for _, record := range result.Records {
		if err := o.store.UpsertLocalRecord(ctx, table, record.ID, record.Data, record.UpdatedAt); err != nil {
			return fmt.Errorf("failed to mirror pulled record: %w", err)
		}
	}
	report.Pulled[table] = result.Records

	// Completion time, not max row timestamp: a row written while the
	// pull ran is still captured by the next cycle.
	if err := o.store.SetWatermark(ctx, table, result.CompletedAt); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	if len(result.Records) > 0 {
		o.logger.Printf("Pulled %d records from %s", len(result.Records), table)
	}
	return nil
}

// refreshCounts best-effort updates the state counters from the store.
func (o *Orchestrator) refreshCounts(ctx context.Context) {
	stats, err := o.store.Stats(ctx)
	if err != nil {
		o.logger.Printf("WARNING: failed to refresh stats: %v", err)
		return
	}
	o.state.setCounts(stats.PendingChanges, stats.OpenConflicts)
}
