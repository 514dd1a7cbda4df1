// Package daemon runs watch mode as a long-lived process: a
// supervisor that keeps the index in sync with filesystem events, a
// pidfile so only one watcher runs per data directory, and a Unix
// socket control surface for status, resync, and stop.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the daemon's control-plane settings.
type Config struct {
	// SocketPath is the Unix domain socket for control requests.
	SocketPath string

	// PIDPath is where the daemon records its process id.
	PIDPath string

	// Timeout bounds one client request round trip.
	Timeout time.Duration

	// ShutdownGrace is how long a stop request waits for the daemon
	// to exit before giving up.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the daemon configuration for a data directory.
func DefaultConfig(dataDir string) Config {
	return Config{
		SocketPath:    filepath.Join(dataDir, "daemon.sock"),
		PIDPath:       filepath.Join(dataDir, "daemon.pid"),
		Timeout:       30 * time.Second,
		ShutdownGrace: 10 * time.Second,
	}
}

// Validate checks that all settings are usable.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path is required")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("pid path is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown grace must be positive")
	}
	return nil
}

// EnsureDir creates the directories holding the socket and pid files.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if pidDir := filepath.Dir(c.PIDPath); pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0o755); err != nil {
			return fmt.Errorf("create pid directory: %w", err)
		}
	}
	return nil
}
