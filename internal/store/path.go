package store

import (
	"os"
	"path/filepath"
)

// DefaultRoot returns the directory holding the local database.
// Defaults to ~/.fieldsync, falls back to ./.fieldsync if the home
// directory is unavailable.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".fieldsync")
	}
	return filepath.Join(home, ".fieldsync")
}

// DefaultDBPath returns the full path to the local database file.
func DefaultDBPath() string {
	return filepath.Join(DefaultRoot(), "fieldsync.db")
}
