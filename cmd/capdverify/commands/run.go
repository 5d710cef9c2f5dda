package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capdgroup/capdverify/pkg/orchestrator"
	"github.com/capdgroup/capdverify/pkg/workspace"
)

// runPipeline executes one orchestrated run and prints its summary.
func runPipeline(ctx context.Context, cmd *cobra.Command, opts orchestrator.RunOptions) error {
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	return runWithApp(ctx, cmd, a, opts)
}

func runWithApp(ctx context.Context, cmd *cobra.Command, a *app, opts orchestrator.RunOptions) error {
	opts.ConfigPath = a.configPath
	summary, err := a.orchestrator().Run(ctx, opts)
	if perr := printSummary(cmd.OutOrStdout(), summary); perr != nil && err == nil {
		err = perr
	}
	return err
}

func modeFlag(incremental bool) workspace.Mode {
	if incremental {
		return workspace.ModeIncremental
	}
	return ""
}

func newRunCommand() *cobra.Command {
	var (
		dryRun      bool
		incremental bool
		variants    []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full verification pipeline",
		Long: `Run the full verification pipeline.

The library is cloned, configured, built, tested and installed; every
configured example is built and run against it; then the project starter
is built in place and linked to the install. The run stops at the first
failure and exits non-zero.

With more than one configured variant each variant gets its own
subdirectory of the workspace root.`,
		Example: `  # Verify everything from scratch
  capdverify run

  # Show what would be executed
  capdverify run --dry-run

  # Reuse clones and builds from the previous run
  capdverify run --incremental

  # Verify a single variant
  capdverify run --variant mpfr`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd, orchestrator.RunOptions{
				DryRun:   dryRun,
				Mode:     modeFlag(incremental),
				Variants: variants,
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log commands instead of running them")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "keep the workspace and reuse existing checkouts")
	cmd.Flags().StringSliceVar(&variants, "variant", nil, "variant to verify (repeatable, default all)")

	return cmd
}

func newLibraryCommand() *cobra.Command {
	var (
		dryRun      bool
		incremental bool
		variants    []string
	)

	cmd := &cobra.Command{
		Use:   "library",
		Short: "Build, test and install the library only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd, orchestrator.RunOptions{
				DryRun:   dryRun,
				Mode:     modeFlag(incremental),
				Variants: variants,
				Targets:  orchestrator.Targets{Library: true},
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log commands instead of running them")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "keep the workspace and reuse existing checkouts")
	cmd.Flags().StringSliceVar(&variants, "variant", nil, "variant to verify (repeatable, default all)")

	return cmd
}

func newExampleCommand() *cobra.Command {
	var (
		dryRun   bool
		variants []string
	)

	cmd := &cobra.Command{
		Use:   "example <name>...",
		Short: "Build and run examples against an existing install",
		Long: `Build and run the named examples. The workspace is always kept, so a
library installed by an earlier run is linked against. Examples are
selected by name or by checkout directory.`,
		Example: `  capdverify example "CAPD example 1"
  capdverify example CAPD.example.1 --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd, orchestrator.RunOptions{
				DryRun:   dryRun,
				Mode:     workspace.ModeIncremental,
				Variants: variants,
				Targets:  orchestrator.Targets{Examples: args},
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log commands instead of running them")
	cmd.Flags().StringSliceVar(&variants, "variant", nil, "variant to verify (repeatable, default all)")

	return cmd
}

func newStarterCommand() *cobra.Command {
	var (
		dryRun bool
		flow   string
	)

	cmd := &cobra.Command{
		Use:   "starter",
		Short: "Exercise the project starter",
		Long: `Build and run the project starter shipped in the library checkout.

The in-place flow builds the starter inside the checkout. The
install-linked flow copies it into the workspace root, comments out its
bin directory assignment and builds it against the installed library.
Both need a checkout and install from an earlier run, so the workspace is
always kept.`,
		Example: `  capdverify starter
  capdverify starter --flow install-linked`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := orchestrator.Targets{}
			switch flow {
			case "all":
				targets.InPlace = true
				targets.InstallLinked = true
			case "in-place":
				targets.InPlace = true
			case "install-linked":
				targets.InstallLinked = true
			default:
				return fmt.Errorf("invalid flow %q (must be in-place, install-linked or all)", flow)
			}

			return runPipeline(cmd.Context(), cmd, orchestrator.RunOptions{
				DryRun:  dryRun,
				Mode:    workspace.ModeIncremental,
				Targets: targets,
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log commands instead of running them")
	cmd.Flags().StringVar(&flow, "flow", "all", "flow to run: in-place, install-linked or all")

	return cmd
}
