package remote

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// LibSQLConfig holds libSQL/Turso connection configuration.
type LibSQLConfig struct {
	// URL is the database URL (libsql://name.turso.io or file:path for a
	// local replica).
	URL string

	// AuthToken authenticates against a hosted Turso database. Appended
	// to the URL when set.
	AuthToken string

	// RequestTimeout bounds each remote call. Zero disables the per-call
	// timeout.
	RequestTimeout time.Duration
}

// OpenLibSQL establishes a connection to a libSQL/Turso remote store.
func OpenLibSQL(cfg LibSQLConfig) (*SQLStore, error) {
	url := cfg.URL
	if cfg.AuthToken != "" {
		url = fmt.Sprintf("%s?authToken=%s", url, cfg.AuthToken)
	}

	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql: %w", err)
	}

	return newSQLStore(db, libsqlDialect{}, cfg.RequestTimeout), nil
}

// libsqlDialect holds records as (id TEXT, data TEXT, updated_at TEXT)
// with fixed-width RFC 3339 timestamps so text comparison orders
// chronologically.
type libsqlDialect struct{}

func (libsqlDialect) name() string { return "libsql" }

func (libsqlDialect) createTableSQL(table string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, table)
}

func (libsqlDialect) upsertSQL(table string) string {
	return fmt.Sprintf(`
	INSERT INTO %s (id, data, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at`, table)
}

func (libsqlDialect) getSQL(table string) string {
	return fmt.Sprintf(`SELECT id, data, updated_at FROM %s WHERE id = ?`, table)
}

func (libsqlDialect) changedSinceSQL(table string) string {
	return fmt.Sprintf(
		`SELECT id, data, updated_at FROM %s WHERE updated_at > ? ORDER BY updated_at ASC`,
		table)
}

func (libsqlDialect) timeValue(t time.Time) any {
	return t.UTC().Format(sqliteTimeLayout)
}
