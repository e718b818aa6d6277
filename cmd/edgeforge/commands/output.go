package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPlan(plan *engine.Plan) {
	if plan.IsEmpty() {
		fmt.Println("No changes. The site matches the declared configuration.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tKIND\tACTION\tDETAIL")
	for _, change := range plan.Changes {
		detail := change.Reason
		if detail == "" && len(change.Fields) > 0 {
			detail = fmt.Sprintf("%d field(s) changed", len(change.Fields))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", change.ResourceID, change.Kind, change.Action, detail)
	}
	w.Flush()

	var create, update, replace, del int
	for _, change := range plan.Changes {
		switch change.Action {
		case engine.ActionCreate:
			create++
		case engine.ActionUpdate:
			update++
		case engine.ActionReplace:
			replace++
		case engine.ActionDelete:
			del++
		}
	}
	fmt.Printf("\nPlan: %d to create, %d to update, %d to replace, %d to delete.\n",
		create, update, replace, del)
}

func printReport(report *engine.RunReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tKIND\tACTION\tOUTCOME\tERROR")
	for _, node := range report.Nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			node.ResourceID, node.Kind, node.Action, node.Outcome, node.Error)
	}
	w.Flush()

	fmt.Printf("\nRun %s: %s (%d applied, %d no-op, %d failed, %d skipped) in %s\n",
		report.RunID, report.Status,
		report.Summary.Applied, report.Summary.NoOp,
		report.Summary.Failed, report.Summary.Skipped,
		report.CompletedAt.Sub(report.StartedAt).Round(10*time.Millisecond))

	if len(report.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		if endpoint, ok := report.Outputs[engine.OutputEndpoint]; ok {
			fmt.Printf("  endpoint = %s\n", endpoint)
		}
		if url, ok := report.Outputs[engine.OutputURL]; ok {
			fmt.Printf("  url      = %s\n", url)
		}
		if bucket, ok := report.Outputs[engine.OutputBucket]; ok {
			fmt.Printf("  bucket   = %s\n", bucket)
		}
	}
}

func printDrift(report *engine.DriftReport) {
	if !report.Drifted() {
		fmt.Printf("No drift detected across %d resource(s).\n", report.Checked)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tKIND\tDRIFT")
	for _, entry := range report.Entries {
		detail := fmt.Sprintf("%d field(s) differ", len(entry.Fields))
		if entry.Missing {
			detail = "missing from provider"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", entry.ResourceID, entry.Kind, detail)
		for _, field := range entry.Fields {
			fmt.Fprintf(w, "\t\t%s: %v -> %v\n", field.Path, field.Before, field.After)
		}
	}
	w.Flush()
	fmt.Printf("\n%d of %d resource(s) drifted.\n", len(report.Entries), report.Checked)
}
