// Package config loads medsync configuration from a YAML file,
// environment variables, and built-in defaults, in that order of
// increasing precedence for the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Remote configures the connection to the remote relational store.
type Remote struct {
	// Driver selects the backend: "postgres" or "libsql".
	Driver string `mapstructure:"driver"`

	// URL is the driver connection string (postgres DSN or libsql URL).
	URL string `mapstructure:"url"`

	// AuthToken authenticates libsql connections. Ignored by postgres.
	AuthToken string `mapstructure:"auth_token"`

	// RequestTimeout bounds each remote round trip.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Dashboard configures the optional WebSocket monitoring server.
type Dashboard struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Log configures rolling file logging. When File is empty, logs go to
// stderr only.
type Log struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the full medsync configuration.
type Config struct {
	// DBPath is the local change-queue database file.
	DBPath string `mapstructure:"db_path"`

	// SpoolDir is the directory the daemon watches for dropped change
	// files (*.json).
	SpoolDir string `mapstructure:"spool_dir"`

	// Tables lists the remote tables pulled each cycle.
	Tables []string `mapstructure:"tables"`

	// BatchSize caps the number of changes pushed per batch.
	BatchSize int `mapstructure:"batch_size"`

	// SyncInterval is the daemon's periodic sync cadence.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// DebounceInterval batches rapid spool-file drops together.
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`

	Remote    Remote    `mapstructure:"remote"`
	Dashboard Dashboard `mapstructure:"dashboard"`
	Log       Log       `mapstructure:"log"`
}

// setDefaults registers the built-in defaults on a viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", ".medsync/sync.db")
	v.SetDefault("spool_dir", ".medsync/spool")
	v.SetDefault("tables", []string{"practices", "patients", "appointments"})
	v.SetDefault("batch_size", 50)
	v.SetDefault("sync_interval", 30*time.Second)
	v.SetDefault("debounce_interval", 100*time.Millisecond)
	v.SetDefault("remote.driver", "postgres")
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.auth_token", "")
	v.SetDefault("remote.request_timeout", 10*time.Second)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads configuration from path (YAML; optional when path is
// empty) and the MEDSYNC_* environment. Nested keys map to environment
// variables with underscores, e.g. remote.url -> MEDSYNC_REMOTE_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MEDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values that would fail later
// in less obvious ways.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive, got %s", c.SyncInterval)
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("tables cannot be empty")
	}
	switch c.Remote.Driver {
	case "postgres", "libsql":
	default:
		return fmt.Errorf("unknown remote driver %q", c.Remote.Driver)
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard port %d out of range", c.Dashboard.Port)
	}
	return nil
}
