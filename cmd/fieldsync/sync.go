package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/fieldsync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending mutation queue",
	Long: `Run one pass over the sync queue against the central service.

Example:
  fieldsync sync --url https://api.example.com --api-key KEY`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if cfg.GatewayURL == "" {
		return fmt.Errorf("FIELDSYNC_URL not configured")
	}

	client, err := fieldsync.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	fmt.Fprintln(cmd.OutOrStdout(), "Synchronizing...")

	result, err := client.SyncNow(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sync complete (took %s)\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(cmd.OutOrStdout(), "  processed: %d\n", result.Processed)
	fmt.Fprintf(cmd.OutOrStdout(), "  failed:    %d\n", result.Failed)
	fmt.Fprintf(cmd.OutOrStdout(), "  remaining: %d\n", result.Remaining)
	return nil
}
