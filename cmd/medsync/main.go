// Command medsync manages offline/online synchronization for a
// practice's local data.
//
// It queues local writes into an embedded change queue, pushes them to
// the remote relational store, pulls remote updates, and records
// conflicts for explicit resolution.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/practivo/medsync/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "medsync",
	Short: "Offline-first sync engine for practice data",
	Long: `medsync keeps a practice's local data in sync with the remote database.

Local writes are queued in an embedded SQLite database while offline.
A sync cycle pushes queued changes to the remote store, pulls remote
updates, and records conflicts when both sides changed the same record.
Conflicts are never resolved silently; use "medsync conflicts" to
inspect and resolve them.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults + MEDSYNC_* env)")
}

// loadConfig reads the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. With log.file configured the
// output goes to both stderr and a size-rotated file.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		})
	}
	return log.New(out, prefix, log.LstdFlags)
}
