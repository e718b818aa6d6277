package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDriftCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare stored state against the live provider",
		Long: `Describe every stored resource at the provider and report attribute
differences and resources deleted out-of-band.

With --refresh, the stored observed attributes are rewritten from the live
answers and states for missing resources are dropped, so the next plan
recreates or re-converges them.`,
		Example: `  # Report drift
  edgeforge drift

  # Report drift and adopt the live attributes into state
  edgeforge drift --refresh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			report, err := a.driver.DetectDrift(ctx, refresh)
			if err != nil {
				return err
			}
			for _, entry := range report.Entries {
				status := "drifted"
				if entry.Missing {
					status = "missing"
				}
				a.tel.Metrics.RecordDriftDetection(string(entry.Kind), status)
			}

			if jsonOutput {
				return printJSON(report)
			}
			printDrift(report)
			if report.Drifted() && !refresh {
				fmt.Println("Run 'edgeforge drift --refresh' to adopt the live state, or 'edgeforge apply' to converge back.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "rewrite stored state from the live provider")

	return cmd
}
