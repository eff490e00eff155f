// Package paths resolves the broker's on-disk data directory layout,
// per base spec §6 "Persisted state layout".
package paths

import (
	"os"
	"path/filepath"
)

// Layout exposes the well-known subpaths under the broker's data directory.
type Layout struct {
	Root string
}

// New resolves the data directory layout, honoring an explicit override
// (e.g. ACPBROKER_DATADIR via config) and falling back to the OS user
// config directory otherwise.
func New(override string) (Layout, error) {
	root := override
	if root == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return Layout{}, err
		}
		root = filepath.Join(base, "acpbroker")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Layout{}, err
	}
	return Layout{Root: root}, nil
}

func (l Layout) SettingsFile() string      { return filepath.Join(l.Root, "settings.json") }
func (l Layout) InstalledAgentsFile() string { return filepath.Join(l.Root, "installed-agents.json") }
func (l Layout) WorkspacesFile() string    { return filepath.Join(l.Root, "workspaces.json") }
func (l Layout) RegistryCacheFile() string { return filepath.Join(l.Root, "cache", "registry.json") }
func (l Layout) DownloadsDir() string      { return filepath.Join(l.Root, "downloads") }
func (l Layout) AgentsDir() string         { return filepath.Join(l.Root, "agents") }
func (l Layout) WorktreesDir() string      { return filepath.Join(l.Root, "worktrees") }
func (l Layout) ThreadCacheFile() string   { return filepath.Join(l.Root, "thread-cache.json") }
func (l Layout) AuditDBFile() string       { return filepath.Join(l.Root, "audit.db") }

// ThreadsDir returns the per-workspace thread directory root, e.g.
// <workingDir>/.agent/threads.
func ThreadsDir(workingDir string) string {
	return filepath.Join(workingDir, ".agent", "threads")
}

// ThreadDir returns the directory for one session's persisted thread.
func ThreadDir(workingDir, sessionID string) string {
	return filepath.Join(ThreadsDir(workingDir), sessionID)
}
