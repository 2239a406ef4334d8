package profile

import (
	"os"
	"path/filepath"
)

// Root returns the agentdesk home directory: $AGENTDESK_HOME if set,
// otherwise ~/.agentdesk.
func Root() string {
	if v := os.Getenv("AGENTDESK_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentdesk"
	}
	return filepath.Join(home, ".agentdesk")
}

// ConfigPath returns the global config.toml path.
func ConfigPath() string {
	return filepath.Join(Root(), "config.toml")
}

// Dir returns the data directory for a named profile.
func Dir(name string) string {
	return filepath.Join(Root(), "profiles", name)
}

// LogPath returns the daemon log file path for a profile.
func LogPath(name string) string {
	return filepath.Join(Dir(name), "agentdeskd.log")
}

// DBPath returns the local outbox database path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "outbox.db")
}

// EnsureDir creates the profile directory if needed.
func EnsureDir(name string) error {
	return os.MkdirAll(Dir(name), 0700)
}
