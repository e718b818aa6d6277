package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeforge/edgeforge/pkg/config"
	"github.com/edgeforge/edgeforge/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph in DOT format",
		Long: `Build the dependency graph from the declared topology and print it in
Graphviz DOT format. No state is read or written.`,
		Example: `  # Render the graph to a PNG
  edgeforge graph | dot -Tpng -o site.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().Load(configPath)
			if err != nil {
				return err
			}
			specs, err := config.Expand(cfg)
			if err != nil {
				return err
			}
			graph, err := engine.BuildGraph(specs)
			if err != nil {
				return err
			}
			fmt.Print(graph.DOT())
			return nil
		},
	}

	return cmd
}
