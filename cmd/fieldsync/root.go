package main

import (
	"github.com/hyperengineering/fieldsync"
	"github.com/spf13/cobra"
)

var (
	cfgDBPath     string
	cfgGatewayURL string
	cfgAPIKey     string
	cfgDebug      bool
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "fieldsync - offline-first sync engine CLI",
	Long: `fieldsync keeps a local cache of field-service data and a durable
queue of pending mutations, and reconciles that backlog against the
central service whenever connectivity allows.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db-path", "", "Path to local database (default: ~/.fieldsync/fieldsync.db)")
	rootCmd.PersistentFlags().StringVar(&cfgGatewayURL, "url", "", "Base URL of the central service")
	rootCmd.PersistentFlags().StringVar(&cfgAPIKey, "api-key", "", "API key for the central service")
	rootCmd.PersistentFlags().BoolVar(&cfgDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(deleteCmd)
}

func loadConfig() fieldsync.Config {
	cfg := fieldsync.ConfigFromEnv()

	if cfgDBPath != "" {
		cfg.Path = cfgDBPath
	}
	if cfgGatewayURL != "" {
		cfg.GatewayURL = cfgGatewayURL
	}
	if cfgAPIKey != "" {
		cfg.APIKey = cfgAPIKey
	}
	if cfgDebug {
		cfg.Debug = true
	}

	// One-shot commands drive passes explicitly.
	cfg.AutoSync = false

	return cfg.WithDefaults()
}
