package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDirEnv overrides the computed data directory.
const DataDirEnv = "HOSTLIVE_DATA_DIR"

// DefaultDataDir returns the per-user directory for durable cursors and
// leases. The agent runs as a user process, so system locations such as
// /var/lib are never chosen.
func DefaultDataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "hostlive")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Hostlive")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Hostlive")
		}
		return filepath.Join(home, "AppData", "Local", "Hostlive")
	default:
		return filepath.Join(home, ".local", "share", "hostlive")
	}
}
