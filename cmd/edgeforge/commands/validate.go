package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeforge/edgeforge/pkg/config"
	"github.com/edgeforge/edgeforge/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the site configuration",
		Long: `Validate the site configuration without touching any state.

Validation covers YAML shape, field constraints, the expanded resource
topology, and graph soundness (no cycles, no dangling references).`,
		Example: `  # Validate ./site.yaml
  edgeforge validate

  # Validate a custom config
  edgeforge validate --config deploy/site.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().Load(configPath)
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}

			specs, err := config.Expand(cfg)
			if err != nil {
				return fmt.Errorf("topology invalid: %w", err)
			}

			graph, err := engine.BuildGraph(specs)
			if err != nil {
				return fmt.Errorf("graph invalid: %w", err)
			}

			fmt.Printf("Configuration valid: %d resource(s), %d execution level(s).\n",
				len(specs), len(graph.Levels()))
			return nil
		},
	}

	return cmd
}
