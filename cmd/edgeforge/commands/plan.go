package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var dotFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the changes a converge would make",
		Long: `Compute the minimal change set between the declared topology and the
stored state, without touching the cloud.

The plan lists one action per resource: create, update, replace (with the
immutable fields forcing it), delete for resources removed from the config,
or no-op.`,
		Example: `  # Show the pending changes
  edgeforge plan

  # Also write the dependency graph in DOT format
  edgeforge plan --dot site.dot

  # Machine-readable plan
  edgeforge plan --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			graph, plan, err := a.driver.Plan(ctx, a.specs)
			if err != nil {
				return err
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(graph.DOT()), 0644); err != nil {
					return fmt.Errorf("failed to write DOT graph: %w", err)
				}
				fmt.Printf("Wrote dependency graph to %s\n", dotFile)
			}

			if jsonOutput {
				return printJSON(plan)
			}
			printPlan(plan)
			return nil
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "write the dependency graph in DOT format")

	return cmd
}
