package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capdgroup/capdverify/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file (YAML or CUE).

This command checks:
  - syntax and unknown fields
  - field constraints and the built-in CUE schema
  - telemetry settings
  - duplicate variant and example names or directories`,
		Example: `  # Validate ./capdverify.yaml
  capdverify validate

  # Validate a CUE configuration
  capdverify validate ./ci.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				path = config.DefaultFile
			}

			cfg, err := config.Load(path)
			if err != nil {
				if verrs, ok := config.AsValidationErrors(err); ok && jsonOutput {
					if werr := writeJSON(cmd.OutOrStdout(), verrs); werr != nil {
						return werr
					}
				}
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"path":     path,
					"valid":    true,
					"variants": len(cfg.Variants),
					"examples": len(cfg.Examples),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d variants, %d examples)\n",
				path, len(cfg.Variants), len(cfg.Examples))
			return nil
		},
	}

	return cmd
}
