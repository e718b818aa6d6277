package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeforge/edgeforge/pkg/config"
	"github.com/edgeforge/edgeforge/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-converge whenever the config changes",
		Long: `Converge once, then watch the config file and re-converge on every
change. Edits that fail to parse or validate are skipped; the last good
configuration stays active.

Stops on interrupt.`,
		Example: `  edgeforge watch --config site.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			converge := func(specs []engine.ResourceSpec) {
				report, err := a.driver.Converge(ctx, specs)
				if report != nil {
					if saveErr := a.saveCloud(); saveErr != nil {
						a.tel.Logger.Warn().Err(saveErr).Msg("failed to persist simulation state")
					}
					fmt.Printf("Run %s: %s (%d applied, %d no-op, %d failed, %d skipped)\n",
						report.RunID, report.Status,
						report.Summary.Applied, report.Summary.NoOp,
						report.Summary.Failed, report.Summary.Skipped)
				}
				if err != nil && !errors.Is(err, ctx.Err()) {
					a.tel.Logger.Error().Err(err).Msg("converge failed")
				}
			}

			converge(a.specs)

			watcher := config.NewWatcher(config.NewLoader(), a.tel.Logger)
			err = watcher.Watch(ctx, configPath, func(cfg *config.Config) {
				specs, err := config.Expand(cfg)
				if err != nil {
					a.tel.Logger.Error().Err(err).Msg("skipping invalid topology")
					return
				}
				fmt.Println("Config changed, re-converging...")
				converge(specs)
			})
			if err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}

	return cmd
}
