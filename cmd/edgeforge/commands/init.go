package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `# EdgeForge site configuration.
site:
  name: www-example-com
  domain: www.example.com
  zone: example.com
  region: eu-west-1
  protect: false
  origin:
    versioning: true
    index_document: index.html
    error_document: 404.html
  cdn:
    price_class: all
    compress: true
    default_ttl: 1h
    minimum_tls: TLSv1.2
  certificate:
    alternative_names:
      - example.com

engine:
  concurrency: 4
  state_path: edgeforge.db

policy:
  enabled: true

log:
  level: info
  format: console
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample site configuration",
		Long: `Write a starter site configuration to the path given by --config.

The sample declares the full static-site topology: an origin bucket, a TLS
certificate with DNS validation, a CDN distribution, alias records, and the
origin access policy.`,
		Example: `  # Create ./site.yaml
  edgeforge init

  # Create a config at a custom path
  edgeforge init --config deploy/site.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}
			if err := os.WriteFile(configPath, []byte(sampleConfig), 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Wrote %s\n", configPath)
			fmt.Println("Edit the site section, then run 'edgeforge plan'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
