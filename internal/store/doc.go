// Package store provides the durable local change queue for offline sync.
//
// The store is an embedded SQLite database (WAL mode) that records every
// mutation made while disconnected, the conflicts detected when those
// mutations are reconciled against the remote store, and per-table sync
// watermarks.
//
// Tables:
//   - sync_queue: pending changes, drained oldest-first by the orchestrator
//   - sync_conflicts: detected divergences with both snapshots preserved
//   - sync_status: per-table watermark of the last successful pull
//   - sync_records: local mirror of rows pulled from (or resolved against)
//     the remote store
//
// The store is exclusively owned by the process running the sync
// orchestrator; schema initialization is idempotent so repeated startups
// are safe.
//
// Usage:
//
//	st, err := store.Open(".medsync/sync.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	if err := st.InitSchema(ctx); err != nil {
//	    return err
//	}
//
//	err = st.QueueChange(ctx, store.Change{
//	    TableName: "patients",
//	    RecordID:  "p1",
//	    Operation: store.OpUpdate,
//	    Payload:   []byte(`{"id":"p1","name":"Jane"}`),
//	})
package store
