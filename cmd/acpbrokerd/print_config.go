package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openagentbroker/acpbroker/internal/config"
)

// newPrintConfigCmd loads the broker's resolved configuration (defaults,
// config.yaml, ACPBROKER_* env overrides) and dumps it back out as YAML,
// so an operator can diff what acpbrokerd actually resolved against the
// config.yaml they wrote.
func newPrintConfigCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "print-config",
		Short: "print the fully resolved configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithPath(flags.configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling configuration: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}
}
