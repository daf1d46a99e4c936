package fieldsync

import (
	"os"
	"time"

	"github.com/hyperengineering/fieldsync/internal/store"
)

// Default timing and retry constants.
const (
	// DefaultSyncInterval is how often the autosync scheduler drains the queue.
	DefaultSyncInterval = 30 * time.Second

	// DefaultStatusInterval is how often the cached sync status is refreshed.
	DefaultStatusInterval = 10 * time.Second

	// DefaultMaxRetries is how many failed delivery attempts a queue item
	// gets before it is dropped.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the pause inserted before retried items during
	// a pass, as back-pressure against a flaky network.
	DefaultRetryDelay = time.Second
)

// Config configures the fieldsync client.
type Config struct {
	// Path is the path to the local SQLite database.
	// Defaults to ~/.fieldsync/fieldsync.db.
	Path string

	// GatewayURL is the base URL of the remote service.
	// If empty and no explicit Gateway is supplied, the client operates
	// in offline-only mode: mutations queue up but never drain.
	GatewayURL string

	// APIKey authenticates with the remote service.
	APIKey string

	// SyncInterval is the autosync scheduler period.
	SyncInterval time.Duration

	// StatusInterval is the background status refresh period.
	StatusInterval time.Duration

	// MaxRetries is the per-item retry ceiling.
	MaxRetries int

	// RetryDelay is the pause before retried items within a pass.
	RetryDelay time.Duration

	// AutoSync starts the scheduler on New. Defaults to true.
	AutoSync bool

	// Debug enables verbose logging of store and gateway activity.
	Debug bool

	// DebugLogPath is the path to write debug logs.
	// Defaults to stderr if empty.
	DebugLogPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:           store.DefaultDBPath(),
		SyncInterval:   DefaultSyncInterval,
		StatusInterval: DefaultStatusInterval,
		MaxRetries:     DefaultMaxRetries,
		RetryDelay:     DefaultRetryDelay,
		AutoSync:       true,
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	FIELDSYNC_DB_PATH    → Path
//	FIELDSYNC_URL        → GatewayURL
//	FIELDSYNC_API_KEY    → APIKey
//	FIELDSYNC_DEBUG      → Debug (any non-empty value enables)
//	FIELDSYNC_DEBUG_LOG  → DebugLogPath
func ConfigFromEnv() Config {
	return Config{
		Path:         os.Getenv("FIELDSYNC_DB_PATH"),
		GatewayURL:   os.Getenv("FIELDSYNC_URL"),
		APIKey:       os.Getenv("FIELDSYNC_API_KEY"),
		Debug:        os.Getenv("FIELDSYNC_DEBUG") != "",
		DebugLogPath: os.Getenv("FIELDSYNC_DEBUG_LOG"),
	}
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.Path == "" {
		return &ValidationError{Field: "Path", Message: "required: path to SQLite database"}
	}
	if c.GatewayURL != "" && c.APIKey == "" {
		return &ValidationError{Field: "APIKey", Message: "required when GatewayURL is set"}
	}
	if c.SyncInterval < 0 {
		return &ValidationError{Field: "SyncInterval", Message: "must be non-negative"}
	}
	if c.StatusInterval < 0 {
		return &ValidationError{Field: "StatusInterval", Message: "must be non-negative"}
	}
	if c.MaxRetries < 0 {
		return &ValidationError{Field: "MaxRetries", Message: "must be non-negative"}
	}
	if c.RetryDelay < 0 {
		return &ValidationError{Field: "RetryDelay", Message: "must be non-negative"}
	}
	return nil
}

// WithDefaults fills in default values for unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.Path == "" {
		c.Path = defaults.Path
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = defaults.SyncInterval
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = defaults.StatusInterval
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaults.RetryDelay
	}

	return c
}

// IsOffline returns true if the client operates in offline-only mode.
// Offline mode is determined by GatewayURL being empty.
func (c *Config) IsOffline() bool {
	return c.GatewayURL == ""
}
