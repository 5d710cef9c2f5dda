package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/capdgroup/capdverify/pkg/config"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Long: `Write the built-in configuration, which verifies CAPD with its two
examples and both project starter flows, so it can be edited.`,
		Example: `  capdverify init
  capdverify init ci/capdverify.yaml --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFile
			if len(args) > 0 {
				path = args[0]
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := config.Save(path, config.Default()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Created config file: %s\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "\nNext steps:\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  1. Review the repositories and flags in %s\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "  2. Preview the run:   capdverify plan\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  3. Verify:            capdverify run\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}
