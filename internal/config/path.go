package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns where fmq keeps reader checkpoints and archives when
// no directory is configured: $XDG_DATA_HOME/fmq, /var/lib/fmq, the platform
// application directory, or ~/.fmq, in that order. Without a home directory
// it is ./data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "fmq")
	}
	candidates := []struct{ parent, dir string }{
		{"/var/lib", "/var/lib/fmq"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "Fmq")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "Fmq")},
	}
	for _, c := range candidates {
		if isDir(c.parent) {
			return c.dir
		}
	}
	return filepath.Join(home, ".fmq")
}

// StateDir is the Pebble directory for checkpoints and archives under dataDir.
func StateDir(dataDir string) string {
	return filepath.Join(dataDir, "state")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
