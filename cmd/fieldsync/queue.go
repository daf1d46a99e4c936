package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperengineering/fieldsync"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending mutations",
	Long: `List sync queue items in the order they will be delivered.

Example:
  fieldsync queue
  fieldsync queue --json`,
	RunE: runQueue,
}

var queueJSON bool

func init() {
	queueCmd.Flags().BoolVar(&queueJSON, "json", false, "Output as JSON")
}

func runQueue(cmd *cobra.Command, args []string) error {
	client, err := fieldsync.New(loadConfig())
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	store := client.Store()
	if store == nil {
		return fieldsync.ErrStoreUnavailable
	}

	items, err := store.ListQueue()
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	if queueJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
		return nil
	}

	for _, item := range items {
		fmt.Fprintf(cmd.OutOrStdout(), "#%d %s %s/%s queued %s retries=%d",
			item.ID, item.Operation, item.Entity, item.EntityID,
			item.QueuedAt.Local().Format(time.RFC3339), item.Retries)
		if item.Error != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " error=%q", item.Error)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}
