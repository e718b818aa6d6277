package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge the site to the declared configuration",
		Long: `Converge the declared topology: compute the plan, pass it through the
policy gate, and execute it in dependency order with bounded concurrency.

A run with failed nodes still persists state for the nodes that succeeded;
re-running apply is always safe and picks up where the last run stopped.`,
		Example: `  # Converge with an approval prompt
  edgeforge apply

  # Converge without prompting
  edgeforge apply --auto-approve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			_, plan, err := a.driver.Plan(ctx, a.specs)
			if err != nil {
				return err
			}
			if plan.IsEmpty() {
				fmt.Println("No changes. The site matches the declared configuration.")
				return nil
			}

			if !autoApprove {
				printPlan(plan)
				if !confirm("Apply these changes?") {
					fmt.Println("Apply canceled.")
					return nil
				}
			}

			report, convErr := a.instrumentRun(ctx, "run.converge", func(ctx context.Context) (*engine.RunReport, error) {
				return a.driver.Converge(ctx, a.specs)
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

			// A partial failure already printed the per-node detail.
			if engine.IsPartialFailure(convErr) {
				return fmt.Errorf("run finished with failures")
			}
			return convErr
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the approval prompt")

	return cmd
}

func confirm(prompt string) bool {
	fmt.Printf("\n%s Only 'yes' is accepted: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
