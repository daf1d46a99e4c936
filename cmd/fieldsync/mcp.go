package main

import (
	"github.com/hyperengineering/fieldsync"
	fieldsyncmcp "github.com/hyperengineering/fieldsync/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for coding agent integration",
	Long: `Start a Model Context Protocol (MCP) server over stdio exposing
sync status, queue inspection, and save/sync tools.

Environment variables:
  FIELDSYNC_DB_PATH   Path to local SQLite database
  FIELDSYNC_URL       Central service URL (optional, enables sync)
  FIELDSYNC_API_KEY   API key (required if FIELDSYNC_URL set)`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	// The server process is long-lived, so let autosync drain the
	// queue in the background between tool calls.
	cfg.AutoSync = true

	client, err := fieldsync.New(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	return fieldsyncmcp.NewServer(client).Run()
}
