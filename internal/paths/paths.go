// Package paths resolves the per-user filesystem locations the daemon
// reads and writes, and the fixed set of application roots.
package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const appDir = "novasearch"

// DataDir returns the per-user data directory holding the index and the
// daemon's status and control files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, appDir)
}

// IndexPath returns the on-disk index file consumed by clients.
func IndexPath() string {
	return filepath.Join(DataDir(), "index.db")
}

// StatusPath returns the daemon's status snapshot file.
func StatusPath() string {
	return filepath.Join(DataDir(), "status.json")
}

// ReindexRequestPath returns the control file the reindex command touches.
func ReindexRequestPath() string {
	return filepath.Join(DataDir(), "reindex.request")
}

// ConfigPath returns the per-user configuration file.
func ConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appDir, "config.toml")
}

// SystemConfigPath returns the system-wide default configuration, read
// when the user file is absent.
func SystemConfigPath() string {
	return filepath.Join("/etc", appDir, "config.toml")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// ApplicationRoots returns the fixed directories expected to contain
// desktop entries and AppImages. They are indexed and watched regardless
// of the user's include_paths. Nonexistent entries are filtered out by
// callers at scan time.
func ApplicationRoots() []string {
	roots := []string{
		"/usr/share/applications",
		"/usr/local/share/applications",
		"/var/lib/snapd/desktop/applications",
		"/var/lib/flatpak/exports/share/applications",
		"/opt",
	}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots,
			filepath.Join(home, ".local/share/applications"),
			filepath.Join(home, "snap"),
			filepath.Join(home, ".local/share/flatpak/exports/share/applications"),
			filepath.Join(home, "Applications"),
			filepath.Join(home, ".local/bin"),
			filepath.Join(home, "AppImages"),
		)
	}
	return roots
}
