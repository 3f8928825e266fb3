package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue statistics and last sync time",
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

		stats, err := st.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}

		fmt.Printf("Pending changes: %d\n", stats.PendingChanges)
		fmt.Printf("Open conflicts:  %d\n", stats.OpenConflicts)
		if stats.LastSync != nil {
			fmt.Printf("Last sync:       %s\n", stats.LastSync.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Last sync:       never")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
