package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/practivo/medsync/internal/daemon"
	"github.com/practivo/medsync/internal/dashboard"
	"github.com/practivo/medsync/internal/engine"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run medsync as a long-lived background process.

The daemon:
  1. Watches the spool directory for dropped change files (*.json)
  2. Queues each change file into the local change queue
  3. Runs a sync cycle every sync_interval
  4. Optionally serves a WebSocket dashboard for live monitoring

Change files contain one JSON object:
  {"table_name":"patients","record_id":"p1","operation":"UPDATE","payload":{...}}

Connect a WebSocket client to ws://localhost:<port>/ws when the
dashboard is enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := newLogger(cfg, "[medsync] ")

		// Optional dashboard
		var events engine.Events
		var dash *dashboard.Server
		if cfg.Dashboard.Enabled {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: newLogger(cfg, "[dashboard] "),
			})
			if err := dash.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer func() { _ = dash.Stop() }()

			events = dashboard.NewHandler(dash, logger)
			fmt.Printf("Dashboard: ws://localhost:%d/ws\n", cfg.Dashboard.Port)
		}

		ctx := context.Background()
		orch, cleanup, err := openSyncer(ctx, cfg, logger, events)
		if err != nil {
			return err
		}
		defer cleanup()

		d, err := daemon.NewWithConfig(orch, cfg.SpoolDir, &daemon.Config{
			SyncInterval:     cfg.SyncInterval,
			DebounceInterval: cfg.DebounceInterval,
			Logger:           logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		fmt.Printf("Spool: %s, sync every %s\n", cfg.SpoolDir, cfg.SyncInterval)
		fmt.Println("Press Ctrl+C to stop...")

		// Wait for interrupt signal
		runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(runCtx); err != nil {
			return fmt.Errorf("daemon failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
