package commands

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/capdgroup/capdverify/pkg/config"
	"github.com/capdgroup/capdverify/pkg/orchestrator"
	"github.com/capdgroup/capdverify/pkg/workspace"
)

func newWatchCommand() *cobra.Command {
	var (
		dryRun   bool
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run incrementally whenever the configuration changes",
		Long: `Run the pipeline incrementally, then again every time the configuration
file is saved. Runs never overlap; a failed run is reported and watching
continues. Invalid edits are logged and ignored. Stop with Ctrl-C.`,
		Example: `  capdverify watch -c ci/capdverify.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if path == "" {
				return errors.New("watch needs a configuration file (see capdverify init)")
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			opts := orchestrator.RunOptions{
				DryRun: dryRun,
				Mode:   workspace.ModeIncremental,
			}

			runOnce := func(ctx context.Context, cfg *config.Config) {
				a, err := newAppFromConfig(ctx, path, cfg, true)
				if err != nil {
					cmd.PrintErrf("Error: %v\n", err)
					return
				}
				defer a.close()
				if err := runWithApp(ctx, cmd, a, opts); err != nil {
					a.logger.WithError(err).Error("Run failed, waiting for changes")
				}
			}

			runOnce(cmd.Context(), cfg)

			a, err := newAppFromConfig(cmd.Context(), path, cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			return config.NewWatcher(path, debounce, a.logger).Watch(cmd.Context(), runOnce)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log commands instead of running them")
	cmd.Flags().DurationVar(&debounce, "debounce", config.DefaultDebounce, "quiet period before a change triggers a run")

	return cmd
}
