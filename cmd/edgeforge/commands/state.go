package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect stored resource state",
	}

	cmd.AddCommand(newStateListCommand())
	cmd.AddCommand(newStateShowCommand())

	return cmd
}

func newStateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored resources",
		Example: `  edgeforge state list
  edgeforge state list --json`,
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

			if jsonOutput {
				return printJSON(states)
			}

			if len(states) == 0 {
				fmt.Println("No resources in state.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tKIND\tSTATUS\tPROVIDER ID\tUPDATED")
			for _, st := range states {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					st.ID, st.Kind, st.Status, st.ProviderID,
					st.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newStateShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <resource-id>",
		Short: "Show one resource's stored state",
		Args:  cobra.ExactArgs(1),
		Example: `  edgeforge state show cdn`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			st, err := a.store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
}
