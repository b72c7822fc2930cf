package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DBFileName is the snapshot database file name inside the data directory.
const DBFileName = "graph.db"

// DataDir returns the nudgeloop data directory.
// On Unix: ~/.nudgeloop
// On Windows: %USERPROFILE%\.nudgeloop
func DataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".nudgeloop"), nil
}

// DefaultDBPath returns the snapshot database path inside dataDir, or
// inside DataDir() when dataDir is empty.
func DefaultDBPath(dataDir string) (string, error) {
	if dataDir == "" {
		var err error
		if dataDir, err = DataDir(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dataDir, DBFileName), nil
}

// EnsureDataDir creates dir if it doesn't exist.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}
