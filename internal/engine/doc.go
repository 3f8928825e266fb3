// Package engine drives the offline/online synchronization cycle.
//
// Overview
//
// The engine owns the sync state machine and wires the local change
// store to the remote sync client:
//
//	Application code
//	     │ QueueChange            (while offline)
//	     ▼
//	Local change store (sync_queue)
//	     │ drain                  (on Sync)
//	     ▼
//	Remote sync client ── push batches ──► Remote store
//	     │                                     │
//	     │ prior snapshots                     │ rows newer than watermark
//	     ▼                                     ▼
//	Conflict detector (fingerprints)      Pull + local mirror
//	     │
//	     ▼
//	sync_conflicts ──► Resolve (LOCAL | REMOTE | MANUAL)
//
// One sync cycle runs at a time per orchestrator; a second Sync call
// while one is active fails immediately with ErrSyncInProgress. The
// cycle is idempotent through the synced flag: pushed changes are never
// re-pushed, failed ones stay queued for the next cycle.
//
// Conflicts are expected outcomes, not cycle failures. They are recorded
// with both snapshots preserved and stay open until a human or policy
// picks a winner through Resolve.
//
// Usage
//
//	st, _ := store.Open(".medsync/sync.db")
//	_ = st.InitSchema(ctx)
//	rs, _ := remote.Open(ctx, remote.Options{Driver: "postgres", URL: url})
//
//	orch := engine.New(st, rs, nil)
//	report, err := orch.Sync(ctx)
package engine
