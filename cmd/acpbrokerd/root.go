package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	debugMode  bool
}

// newRootCmd builds acpbrokerd's cobra command tree: a default "serve"
// long-running command plus "version" and "migrate-cache" utilities.
func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:           "acpbrokerd",
		Short:         "acpbrokerd hosts ACP agent subprocesses for a desktop frontend",
		Long:          "acpbrokerd is the desktop-side broker that spawns, speaks to, and multiplexes Agent Client Protocol subprocesses for a single frontend UI.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), &flags)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a directory containing config.yaml")
	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "force debug-level logging")

	cmd.AddCommand(newServeCmd(&flags))
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCacheCmd(&flags))
	cmd.AddCommand(newPrintConfigCmd(&flags))

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
