package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// tableNameRe restricts table names to plain SQL identifiers. Table names
// come from change records and are interpolated into statements, so
// anything else is rejected up front.
var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// dialect abstracts the SQL differences between the Postgres and libSQL
// backends. Statements receive (id, data, updated_at) in that order.
type dialect interface {
	name() string
	createTableSQL(table string) string
	upsertSQL(table string) string
	getSQL(table string) string
	changedSinceSQL(table string) string

	// timeValue converts a timestamp to the driver value the backend
	// stores and compares with. Text backends need a fixed-width layout
	// so lexicographic comparison matches chronological order.
	timeValue(t time.Time) any
}

// sqliteTimeLayout is RFC 3339 with fixed-width fractional seconds,
// keeping TEXT timestamps sortable.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// coerceTime normalizes the updated_at column across backends: Postgres
// returns time.Time, libSQL returns the TEXT representation.
func coerceTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	case []byte:
		parsed, err := time.Parse(time.RFC3339Nano, string(t))
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

// SQLStore implements Store over a database/sql connection with a
// per-backend dialect. Every syncable table is held as
// (id, data, updated_at) with the payload kept opaque.
type SQLStore struct {
	db      *sql.DB
	d       dialect
	timeout time.Duration

	// ensured caches which tables have had their schema created.
	ensuredMu sync.Mutex
	ensured   map[string]bool
}

// newSQLStore wraps an open connection. timeout bounds each remote call;
// zero means no per-call timeout.
func newSQLStore(db *sql.DB, d dialect, timeout time.Duration) *SQLStore {
	return &SQLStore{
		db:      db,
		d:       d,
		timeout: timeout,
		ensured: make(map[string]bool),
	}
}

// Driver returns the backend name ("postgres" or "libsql").
func (s *SQLStore) Driver() string {
	return s.d.name()
}

// withTimeout derives the per-call context.
func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// ensureTable creates the table schema on first touch. Creation uses
// IF NOT EXISTS semantics so concurrent clients are safe.
func (s *SQLStore) ensureTable(ctx context.Context, table string) error {
	if !tableNameRe.MatchString(table) {
		return fmt.Errorf("%s: invalid table name %q", CodeBadTable, table)
	}

	s.ensuredMu.Lock()
	done := s.ensured[table]
	s.ensuredMu.Unlock()
	if done {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, s.d.createTableSQL(table)); err != nil {
		return fmt.Errorf("failed to ensure table %s: %w", table, err)
	}

	s.ensuredMu.Lock()
	s.ensured[table] = true
	s.ensuredMu.Unlock()
	return nil
}

// Get implements Store.Get.
func (s *SQLStore) Get(ctx context.Context, table, id string) (*Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	var record Record
	var data string
	var updatedAt any
	err := s.db.QueryRowContext(ctx, s.d.getSQL(table), id).
		Scan(&record.ID, &data, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, id, err)
	}

	record.Data = json.RawMessage(data)
	record.UpdatedAt, err = coerceTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for %s/%s: %w", table, id, err)
	}
	return &record, nil
}

// Upsert implements Store.Upsert. The write is atomic at the storage
// layer; last write wins.
func (s *SQLStore) Upsert(ctx context.Context, table, id string, data json.RawMessage) (*Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	updatedAt := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.d.upsertSQL(table), id, string(data), s.d.timeValue(updatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert %s/%s: %w", table, id, err)
	}

	return &Record{ID: id, Data: data, UpdatedAt: updatedAt}, nil
}

// ChangedSince implements Store.ChangedSince.
func (s *SQLStore) ChangedSince(ctx context.Context, table string, since time.Time) ([]Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.d.changedSinceSQL(table), s.d.timeValue(since))
	if err != nil {
		return nil, fmt.Errorf("failed to select changes in %s: %w", table, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		var data string
		var updatedAt any
		if err := rows.Scan(&record.ID, &data, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row in %s: %w", table, err)
		}
		record.Data = json.RawMessage(data)
		record.UpdatedAt, err = coerceTime(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at in %s: %w", table, err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows in %s: %w", table, err)
	}

	return records, nil
}

// Ping implements Store.Ping.
func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close implements Store.Close.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
