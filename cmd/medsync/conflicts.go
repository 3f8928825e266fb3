package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/practivo/medsync/internal/store"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
	Long: `Manage conflicts recorded during sync.

A conflict is recorded when a pushed change diverged from what the
remote store held at push time. Both snapshots are preserved until a
user picks a winner; medsync never resolves a conflict silently.`,
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		conflicts, err := st.OpenConflicts(ctx)
		if err != nil {
			return fmt.Errorf("failed to list conflicts: %w", err)
		}

		if len(conflicts) == 0 {
			fmt.Println("No open conflicts")
			return nil
		}

		for _, c := range conflicts {
			fmt.Printf("%s  %s/%s  recorded %s\n",
				c.ID, c.TableName, c.RecordID, c.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("  local:  %s\n", c.LocalData)
			fmt.Printf("  remote: %s\n", c.RemoteData)
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve an open conflict",
	Long: `Resolve an open conflict by picking a winner.

The winning payload is written to both the remote store and the local
record mirror, and the conflict is closed. Resolution is one-way: a
resolved conflict cannot be reopened or re-resolved.

Example usage:
  medsync conflicts resolve 4f1c... --use local
  medsync conflicts resolve 4f1c... --use remote
  medsync conflicts resolve 4f1c... --use manual --payload '{"id":"p1","name":"Jane D."}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		use, _ := cmd.Flags().GetString("use")
		payload, _ := cmd.Flags().GetString("payload")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := newLogger(cfg, "[resolve] ")
		ctx := context.Background()

		orch, cleanup, err := openSyncer(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		var manual json.RawMessage
		if payload != "" {
			if strings.HasPrefix(payload, "@") {
				data, err := os.ReadFile(payload[1:])
				if err != nil {
					return fmt.Errorf("failed to read payload file: %w", err)
				}
				payload = string(data)
			}
			manual = json.RawMessage(payload)
		}

		resolution := store.Resolution(strings.ToUpper(use))
		conflict, err := orch.Resolve(ctx, args[0], resolution, manual)
		if err != nil {
			return fmt.Errorf("failed to resolve conflict: %w", err)
		}

		fmt.Printf("Resolved %s/%s using %s\n",
			conflict.TableName, conflict.RecordID, conflict.ResolutionType)
		return nil
	},
}

func init() {
	conflictsResolveCmd.Flags().String("use", "", "winner: local, remote, or manual")
	conflictsResolveCmd.Flags().String("payload", "", "merged JSON payload for --use manual, or @file")
	_ = conflictsResolveCmd.MarkFlagRequired("use")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
