package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperengineering/fieldsync"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Display the aggregate sync status: pending mutation count, last
sync time, connectivity, and local store availability.

Example:
  fieldsync status
  fieldsync status --json`,
	RunE: runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := fieldsync.New(loadConfig())
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	status := client.Status()

	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	lastSync := "never"
	if status.LastSync != nil {
		lastSync = status.LastSync.Local().Format(time.RFC1123)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pending mutations: %d\n", status.Pending)
	fmt.Fprintf(cmd.OutOrStdout(), "Last sync:         %s\n", lastSync)
	fmt.Fprintf(cmd.OutOrStdout(), "Online:            %v\n", status.IsOnline)
	fmt.Fprintf(cmd.OutOrStdout(), "Offline ready:     %v\n", status.OfflineReady)
	return nil
}
