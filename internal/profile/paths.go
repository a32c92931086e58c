// Package profile lays out the per-profile directory tree under ~/.autochat.
// A profile corresponds to one marketplace account; each gets its own
// archive, log and lock so multiple accounts never share a connection.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.autochat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".autochat")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// SettingsPath returns a profile's config file path.
func SettingsPath(name string) string {
	return filepath.Join(Dir(name), "config.toml")
}

// ArchivePath returns the profile's transcript database path.
func ArchivePath(name string) string {
	return filepath.Join(Dir(name), "archive.db")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "autochatd.log")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
