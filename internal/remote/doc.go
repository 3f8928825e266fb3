// Package remote provides the stateless push/pull client against the
// shared remote relational store.
//
// The remote store is consumed through the minimal Store contract: an
// upsert keyed by record id, a point read, and a select of rows newer
// than a watermark. Two backends implement it:
//
//   - Postgres (github.com/lib/pq), rows held as (id, data JSONB, updated_at)
//   - libSQL/Turso (github.com/tursodatabase/go-libsql), same layout with
//     TEXT payloads
//
// Push and pull are package-level functions over the Store interface.
// PushChanges partitions the queue into fixed-size batches and reports a
// per-change result, so one failing change never blocks its siblings and
// the orchestrator can mark exactly the successful subset as synced.
// Each result carries the remote row as it stood before the upsert, which
// is what conflict detection compares against.
package remote
