package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openagentbroker/acpbroker/internal/config"
	"github.com/openagentbroker/acpbroker/internal/paths"
	"github.com/openagentbroker/acpbroker/internal/threadstore"
	"github.com/openagentbroker/acpbroker/internal/workspacestore"
)

// newMigrateCacheCmd rebuilds thread-cache.json from the per-workspace
// .agent/threads directories on disk, for offline repair after a cache
// corruption or a manual edit to a workspace's thread files.
func newMigrateCacheCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-cache",
		Short: "rebuild thread-cache.json from every registered workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithPath(flags.configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			layout, err := paths.New(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("resolving data directory: %w", err)
			}

			workspaces, err := workspacestore.Open(layout.WorkspacesFile())
			if err != nil {
				return fmt.Errorf("opening workspace store: %w", err)
			}

			targets := make([]threadstore.Workspace, 0)
			for _, ws := range workspaces.List() {
				targets = append(targets, threadstore.Workspace{ID: ws.ID, Root: ws.Root})
			}

			threads := threadstore.Open(layout.ThreadCacheFile())
			if err := threads.RebuildCache(targets); err != nil {
				return fmt.Errorf("rebuilding thread cache: %w", err)
			}

			fmt.Printf("rebuilt thread cache across %d workspace(s)\n", len(targets))
			return nil
		},
	}
}
