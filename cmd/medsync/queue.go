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

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue a local change for the next sync cycle",
	Long: `Queue a local write into the change queue.

The change is stored durably and pushed to the remote store on the next
sync cycle. The payload must be a JSON object whose "id" field matches
--record.

Example usage:
  medsync queue --table patients --record p1 --op UPDATE \
      --payload '{"id":"p1","name":"Jane Doe"}'
  medsync queue --table appointments --record a7 --op DELETE \
      --payload @tombstone.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, _ := cmd.Flags().GetString("table")
		record, _ := cmd.Flags().GetString("record")
		op, _ := cmd.Flags().GetString("op")
		payload, _ := cmd.Flags().GetString("payload")

		// @file reads the payload from disk
		if strings.HasPrefix(payload, "@") {
			data, err := os.ReadFile(payload[1:])
			if err != nil {
				return fmt.Errorf("failed to read payload file: %w", err)
			}
			payload = string(data)
		}

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

		pending, err := st.QueueChange(ctx, store.Change{
			TableName: table,
			RecordID:  record,
			Operation: store.Operation(strings.ToUpper(op)),
			Payload:   json.RawMessage(payload),
		})
		if err != nil {
			return fmt.Errorf("failed to queue change: %w", err)
		}

		fmt.Printf("Queued %s %s/%s (change %s)\n",
			pending.Operation, pending.TableName, pending.RecordID, pending.ID)
		return nil
	},
}

func init() {
	queueCmd.Flags().String("table", "", "target table name")
	queueCmd.Flags().String("record", "", "record id")
	queueCmd.Flags().String("op", "UPDATE", "operation: INSERT, UPDATE, or DELETE")
	queueCmd.Flags().String("payload", "", "JSON payload, or @file to read from disk")
	_ = queueCmd.MarkFlagRequired("table")
	_ = queueCmd.MarkFlagRequired("record")
	_ = queueCmd.MarkFlagRequired("payload")

	rootCmd.AddCommand(queueCmd)
}
