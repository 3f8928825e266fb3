package remote

import (
	"context"
	"fmt"
	"time"
)

// Options selects and configures a remote backend.
type Options struct {
	// Driver names the backend: "postgres" or "libsql".
	Driver string

	// URL is the backend connection string.
	URL string

	// AuthToken authenticates against hosted libSQL; ignored by postgres.
	AuthToken string

	// RequestTimeout bounds each remote call.
	RequestTimeout time.Duration
}

// Open creates a remote store for the configured driver.
//
// Returns ErrUnknownDriver for a driver name outside the supported set.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "postgres":
		cfg := DefaultPostgresConfig(opts.URL)
		if opts.RequestTimeout > 0 {
			cfg.RequestTimeout = opts.RequestTimeout
		}
		return OpenPostgres(ctx, cfg)

	case "libsql":
		return OpenLibSQL(LibSQLConfig{
			URL:            opts.URL,
			AuthToken:      opts.AuthToken,
			RequestTimeout: opts.RequestTimeout,
		})

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
