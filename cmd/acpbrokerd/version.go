package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped by -ldflags "-X main.version=..." at release build
// time; it defaults to "dev" for local builds.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the acpbrokerd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("acpbrokerd version %s\n", version)
		},
	}
}
