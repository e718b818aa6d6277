package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

func newDestroyCommand() *cobra.Command {
	var (
		force       bool
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear down every managed resource",
		Long: `Delete all stored resources in reverse dependency order, dependents
before their dependencies.

Protected resources abort the teardown unless --force is given.`,
		Example: `  # Tear the site down with an approval prompt
  edgeforge destroy

  # Tear down including protected resources
  edgeforge destroy --force --auto-approve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			states, err := a.store.List(ctx)
			if err != nil {
				return err
			}
			if len(states) == 0 {
				fmt.Println("Nothing to destroy.")
				return nil
			}

			if !autoApprove {
				fmt.Printf("This will delete %d resource(s).\n", len(states))
				if !confirm("Destroy the site?") {
					fmt.Println("Destroy canceled.")
					return nil
				}
			}

			report, destroyErr := a.instrumentRun(ctx, "run.destroy", func(ctx context.Context) (*engine.RunReport, error) {
				return a.driver.Destroy(ctx, a.specs, force)
			})
			if report != nil {
				if err := a.saveCloud(); err != nil {
					a.tel.Logger.Warn().Err(err).Msg("failed to persist simulation state")
				}
				if jsonOutput {
					if err := printJSON(report); err != nil {
						return err
					}
				} else {
					printReport(report)
				}
			}

			if engine.IsPartialFailure(destroyErr) {
				return fmt.Errorf("teardown finished with failures")
			}
			return destroyErr
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "destroy protected resources too")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the approval prompt")

	return cmd
}
