package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show convergence run history",
		Long:  `List past runs recorded in the state store, newest first.`,
		Example: `  # Show the last 10 runs
  edgeforge runs --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			runs, err := a.store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTATUS\tAPPLIED\tNO-OP\tFAILED\tSKIPPED\tSTARTED\tDURATION")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
					run.RunID, run.Status,
					run.Summary.Applied, run.Summary.NoOp,
					run.Summary.Failed, run.Summary.Skipped,
					run.StartedAt.Format("2006-01-02 15:04:05"),
					run.CompletedAt.Sub(run.StartedAt).Round(10*time.Millisecond))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}
