package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Operation is the kind of mutation a pending change carries.
type Operation string

const (
	// OpInsert records creation of a new record.
	OpInsert Operation = "INSERT"
	// OpUpdate records modification of an existing record.
	OpUpdate Operation = "UPDATE"
	// OpDelete records deletion of a record. The payload is the tombstone
	// snapshot pushed to the remote store.
	OpDelete Operation = "DELETE"
)

// Valid reports whether op is one of the three supported operations.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Resolution is the winning side chosen when closing a conflict.
type Resolution string

const (
	// ResolutionLocal keeps the locally queued snapshot.
	ResolutionLocal Resolution = "LOCAL"
	// ResolutionRemote keeps the remote snapshot.
	ResolutionRemote Resolution = "REMOTE"
	// ResolutionManual uses a caller-supplied payload.
	ResolutionManual Resolution = "MANUAL"
)

// Valid reports whether r is a known resolution type.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocal, ResolutionRemote, ResolutionManual:
		return true
	}
	return false
}

// Change is the caller-supplied part of a pending change.
// The payload is an opaque serialized snapshot of the full record;
// the store only requires that it carries an "id" field matching RecordID.
type Change struct {
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Operation Operation       `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
}

// PendingChange is an entry in the local sync queue.
type PendingChange struct {
	ID        string
	TableName string
	RecordID  string
	Operation Operation
	Payload   json.RawMessage
	CreatedAt time.Time
	Synced    bool
}

// Conflict is a recorded divergence between local and remote state.
// Both snapshots are preserved verbatim and are immutable once recorded.
type Conflict struct {
	ID             string
	SyncLogID      string
	TableName      string
	RecordID       string
	LocalData      json.RawMessage
	RemoteData     json.RawMessage
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	ResolutionType Resolution
	ResolutionData json.RawMessage
}

// Open reports whether the conflict still awaits resolution.
func (c *Conflict) Open() bool {
	return c.ResolvedAt == nil
}

// Stats aggregates queue and conflict counts for observability.
type Stats struct {
	PendingChanges int
	OpenConflicts  int
	LastSync       *time.Time
}

// timeLayout is RFC 3339 with fixed-width fractional seconds. All TEXT
// timestamp columns use it so that lexicographic comparison (ORDER BY,
// MAX) matches chronological order; RFC3339Nano trims trailing zeros
// and breaks that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the embedded SQLite database holding the sync queue,
// conflict table, watermarks, and the local record mirror.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before
// using the store.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	// WAL mode for concurrent reads during writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the store schema if it doesn't exist.
//
// This is idempotent - safe to call on every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sync_conflicts (
		id TEXT PRIMARY KEY,
		sync_log_id TEXT NOT NULL,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		local_data TEXT NOT NULL,
		remote_data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		resolved_at TEXT,
		resolution_type TEXT,
		resolution_data TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		table_name TEXT PRIMARY KEY,
		last_sync TEXT,
		updated_at TEXT NOT NULL
	);

	-- Local mirror of remote rows, fed by pulls and conflict resolution
	CREATE TABLE IF NOT EXISTS sync_records (
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (table_name, record_id)
	);

	CREATE INDEX IF NOT EXISTS idx_queue_unsynced ON sync_queue(synced, created_at);
	CREATE INDEX IF NOT EXISTS idx_queue_record ON sync_queue(table_name, record_id);
	CREATE INDEX IF NOT EXISTS idx_conflicts_open ON sync_conflicts(resolved_at)
	    WHERE resolved_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_conflicts_record ON sync_conflicts(table_name, record_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// QueueChange validates and persists a change on the local queue.
//
// The change must name a non-empty table and record, carry one of the
// three operations, and its payload must be a JSON object whose "id"
// field matches RecordID. Returns ErrInvalidChange otherwise; nothing
// is written for an invalid change.
func (s *Store) QueueChange(ctx context.Context, change Change) (*PendingChange, error) {
	if err := validateChange(change); err != nil {
		return nil, err
	}

	pending := &PendingChange{
		ID:        uuid.NewString(),
		TableName: change.TableName,
		RecordID:  change.RecordID,
		Operation: change.Operation,
		Payload:   change.Payload,
		CreatedAt: time.Now().UTC(),
	}

	query := `
	INSERT INTO sync_queue (id, table_name, record_id, operation, payload, created_at, synced)
	VALUES (?, ?, ?, ?, ?, ?, 0)
	`

	_, err := s.conn.ExecContext(ctx, query,
		pending.ID,
		pending.TableName,
		pending.RecordID,
		string(pending.Operation),
		string(pending.Payload),
		pending.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to queue change for %s/%s: %w",
			change.TableName, change.RecordID, err)
	}

	return pending, nil
}

// validateChange checks the invariants required before a change may be queued.
func validateChange(change Change) error {
	if change.TableName == "" {
		return fmt.Errorf("%w: table name is empty", ErrInvalidChange)
	}
	if change.RecordID == "" {
		return fmt.Errorf("%w: record id is empty", ErrInvalidChange)
	}
	if !change.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidChange, change.Operation)
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(change.Payload, &payload); err != nil {
		return fmt.Errorf("%w: payload is not a JSON object: %v", ErrInvalidChange, err)
	}
	if payload.ID != change.RecordID {
		return fmt.Errorf("%w: payload id %q does not match record id %q",
			ErrInvalidChange, payload.ID, change.RecordID)
	}

	return nil
}

// Unsynced returns all pending changes that have not been confirmed
// pushed, ordered oldest first. Changes for the same record keep their
// enqueue order, preserving causal history per record.
func (s *Store) Unsynced(ctx context.Context) ([]PendingChange, error) {
	query := `
	SELECT id, table_name, record_id, operation, payload, created_at, synced
	FROM sync_queue
	WHERE synced = 0
	ORDER BY created_at ASC, id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced changes: %w", err)
	}
	defer rows.Close()

	var changes []PendingChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *change)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}

	return changes, nil
}

// MarkSynced flags a change as confirmed pushed so it is never drained
// again. Idempotent: marking an already-synced or unknown id is a no-op.
func (s *Store) MarkSynced(ctx context.Context, changeID string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET synced = 1 WHERE id = ?`, changeID)
	if err != nil {
		return fmt.Errorf("failed to mark change %s synced: %w", changeID, err)
	}
	return nil
}

// AddConflict persists a new open conflict. Missing ID and CreatedAt
// fields are filled in; both snapshots are stored verbatim.
func (s *Store) AddConflict(ctx context.Context, conflict *Conflict) error {
	if conflict.ID == "" {
		conflict.ID = uuid.NewString()
	}
	if conflict.CreatedAt.IsZero() {
		conflict.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO sync_conflicts (
		id, sync_log_id, table_name, record_id,
		local_data, remote_data, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		conflict.ID,
		conflict.SyncLogID,
		conflict.TableName,
		conflict.RecordID,
		string(conflict.LocalData),
		string(conflict.RemoteData),
		conflict.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to persist conflict for %s/%s: %w",
			conflict.TableName, conflict.RecordID, err)
	}

	return nil
}

// GetConflict retrieves a conflict by ID.
// Returns ErrConflictNotFound if the id does not exist.
func (s *Store) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	query := `
	SELECT id, sync_log_id, table_name, record_id, local_data, remote_data,
	       created_at, resolved_at, resolution_type, resolution_data
	FROM sync_conflicts
	WHERE id = ?
	`

	conflict, err := scanConflict(s.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict %s: %w", id, err)
	}

	return conflict, nil
}

// OpenConflicts returns all unresolved conflicts, oldest first.
func (s *Store) OpenConflicts(ctx context.Context) ([]Conflict, error) {
	query := `
	SELECT id, sync_log_id, table_name, record_id, local_data, remote_data,
	       created_at, resolved_at, resolution_type, resolution_data
	FROM sync_conflicts
	WHERE resolved_at IS NULL
	ORDER BY created_at ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []Conflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, *conflict)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}

	return conflicts, nil
}

// ResolveConflict closes an open conflict and writes the winning payload
// to the local record mirror, all in one transaction so a crash cannot
// leave the conflict half-resolved locally.
//
// Returns ErrConflictNotFound for an unknown id and ErrConflictResolved
// if the conflict is already closed; resolution history is never
// overwritten.
func (s *Store) ResolveConflict(ctx context.Context, id string, resolution Resolution, winning json.RawMessage) (*Conflict, error) {
	if !resolution.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	SELECT id, sync_log_id, table_name, record_id, local_data, remote_data,
	       created_at, resolved_at, resolution_type, resolution_data
	FROM sync_conflicts
	WHERE id = ?
	`

	conflict, err := scanConflict(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict %s: %w", id, err)
	}
	if !conflict.Open() {
		return nil, fmt.Errorf("%w: %s", ErrConflictResolved, id)
	}

	resolvedAt := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE sync_conflicts
		SET resolved_at = ?, resolution_type = ?, resolution_data = ?
		WHERE id = ?`,
		resolvedAt.Format(timeLayout),
		string(resolution),
		string(winning),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark conflict %s resolved: %w", id, err)
	}

	if err := upsertLocalRecordTx(ctx, tx, conflict.TableName, conflict.RecordID, winning, resolvedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit resolution: %w", err)
	}

	conflict.ResolvedAt = &resolvedAt
	conflict.ResolutionType = resolution
	conflict.ResolutionData = winning
	return conflict, nil
}

// UpsertLocalRecord writes a row into the local mirror of remote state.
// Called for every row pulled from the remote store.
func (s *Store) UpsertLocalRecord(ctx context.Context, table, recordID string, data json.RawMessage, updatedAt time.Time) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertLocalRecordTx(ctx, tx, table, recordID, data, updatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

func upsertLocalRecordTx(ctx context.Context, tx *sql.Tx, table, recordID string, data json.RawMessage, updatedAt time.Time) error {
	query := `
	INSERT INTO sync_records (table_name, record_id, data, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(table_name, record_id) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at
	`

	_, err := tx.ExecContext(ctx, query,
		table, recordID, string(data), updatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to upsert local record %s/%s: %w", table, recordID, err)
	}
	return nil
}

// LocalRecord reads a row from the local mirror.
// Returns nil without error if the record has never been mirrored.
func (s *Store) LocalRecord(ctx context.Context, table, recordID string) (json.RawMessage, error) {
	var data string
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM sync_records WHERE table_name = ? AND record_id = ?`,
		table, recordID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query local record %s/%s: %w", table, recordID, err)
	}
	return json.RawMessage(data), nil
}

// Watermark returns the last_sync timestamp for a table, or nil if the
// table has never been pulled.
func (s *Store) Watermark(ctx context.Context, table string) (*time.Time, error) {
	var lastSync sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT last_sync FROM sync_status WHERE table_name = ?`, table).Scan(&lastSync)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query watermark for %s: %w", table, err)
	}
	return nullStringToTime(lastSync), nil
}

// SetWatermark advances the last_sync timestamp for a table.
// Watermarks only move forward; they are never rolled back.
func (s *Store) SetWatermark(ctx context.Context, table string, lastSync time.Time) error {
	query := `
	INSERT INTO sync_status (table_name, last_sync, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(table_name) DO UPDATE SET
		last_sync = excluded.last_sync,
		updated_at = excluded.updated_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		table,
		lastSync.UTC().Format(timeLayout),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to set watermark for %s: %w", table, err)
	}
	return nil
}

// Stats returns aggregate counts for observability: pending change count,
// open conflict count, and the most recent watermark across tables.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE synced = 0`).Scan(&stats.PendingChanges)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending changes: %w", err)
	}

	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_conflicts WHERE resolved_at IS NULL`).Scan(&stats.OpenConflicts)
	if err != nil {
		return nil, fmt.Errorf("failed to count open conflicts: %w", err)
	}

	var lastSync sql.NullString
	err = s.conn.QueryRowContext(ctx,
		`SELECT MAX(last_sync) FROM sync_status`).Scan(&lastSync)
	if err != nil {
		return nil, fmt.Errorf("failed to query last sync: %w", err)
	}
	stats.LastSync = nullStringToTime(lastSync)

	return stats, nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChange(row scanner) (*PendingChange, error) {
	var change PendingChange
	var operation, payload, createdAt string
	var synced int

	err := row.Scan(
		&change.ID,
		&change.TableName,
		&change.RecordID,
		&operation,
		&payload,
		&createdAt,
		&synced,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan change: %w", err)
	}

	change.Operation = Operation(operation)
	change.Payload = json.RawMessage(payload)
	change.Synced = synced != 0

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		change.CreatedAt = t
	}

	return &change, nil
}

func scanConflict(row scanner) (*Conflict, error) {
	var conflict Conflict
	var localData, remoteData, createdAt string
	var resolvedAt, resolutionType, resolutionData sql.NullString

	err := row.Scan(
		&conflict.ID,
		&conflict.SyncLogID,
		&conflict.TableName,
		&conflict.RecordID,
		&localData,
		&remoteData,
		&createdAt,
		&resolvedAt,
		&resolutionType,
		&resolutionData,
	)
	if err != nil {
		return nil, err
	}

	conflict.LocalData = json.RawMessage(localData)
	conflict.RemoteData = json.RawMessage(remoteData)

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		conflict.CreatedAt = t
	}

	conflict.ResolvedAt = nullStringToTime(resolvedAt)
	if resolutionType.Valid {
		conflict.ResolutionType = Resolution(resolutionType.String)
	}
	if resolutionData.Valid {
		conflict.ResolutionData = json.RawMessage(resolutionData.String)
	}

	return &conflict, nil
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
