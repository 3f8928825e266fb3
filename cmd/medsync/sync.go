package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle against the remote store",
	Long: `Run a single sync cycle:

  1. Push queued local changes to the remote store (batched)
  2. Record a conflict for every diverged record
  3. Pull remote updates for the configured tables
  4. Advance per-table pull watermarks

Failed pushes stay queued and are retried on the next cycle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := newLogger(cfg, "[sync] ")
		ctx := context.Background()

		orch, cleanup, err := openSyncer(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := orch.Sync(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("Pushed:    %d\n", report.Pushed)
		fmt.Printf("Failed:    %d\n", report.Failed)
		fmt.Printf("Conflicts: %d\n", report.Conflicts)
		fmt.Printf("Pulled:    %d\n", report.PulledCount())
		if report.Pending > 0 {
			fmt.Printf("Pending:   %d (will retry next cycle)\n", report.Pending)
		}
		if report.Conflicts > 0 {
			fmt.Fprintln(os.Stderr, "\nRun \"medsync conflicts list\" to inspect conflicts.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
