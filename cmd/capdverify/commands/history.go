package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/capdgroup/capdverify/pkg/stores"
	"github.com/capdgroup/capdverify/pkg/vcs"
)

// openHistory opens the run history, failing when it is disabled.
func openHistory(ctx context.Context) (*app, stores.Store, error) {
	a, err := newApp(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	if !a.cfg.Store.Enabled {
		a.close()
		return nil, nil, errors.New("run history is disabled (store.enabled: false)")
	}
	store, err := stores.Open(ctx, a.cfg.Store.StoreOptions())
	if err != nil {
		a.close()
		return nil, nil, err
	}
	a.store = store
	return a, store, nil
}

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded verification runs",
		Example: `  capdverify history
  capdverify history --limit 5 --json
  capdverify history show <run-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			runs, err := store.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs recorded")
				return nil
			}
			for _, r := range runs {
				dry := ""
				if r.DryRun {
					dry = " (dry run)"
				}
				fmt.Fprintf(w, "%s  %-9s  %-11s  %s%s\n",
					r.ID, r.Status, r.Mode, r.StartedAt.Local().Format(time.DateTime), dry)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the stages and commands of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			stages, err := store.ListStagesByRun(ctx, run.ID)
			if err != nil {
				return err
			}
			steps, err := store.ListStepsByRun(ctx, run.ID)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, map[string]interface{}{
					"run":    run,
					"stages": stages,
					"steps":  steps,
				})
			}

			fmt.Fprintf(w, "Run %s\n", run.ID)
			fmt.Fprintf(w, "  status:  %s\n", run.Status)
			fmt.Fprintf(w, "  mode:    %s\n", run.Mode)
			fmt.Fprintf(w, "  dry run: %v\n", run.DryRun)
			fmt.Fprintf(w, "  started: %s\n", run.StartedAt.Local().Format(time.DateTime))
			if run.Error != nil {
				fmt.Fprintf(w, "  error:   %s\n", *run.Error)
			}

			fmt.Fprintf(w, "\nStages:\n")
			for _, s := range stages {
				name := s.Name
				if s.Variant != "" {
					name = s.Variant + "/" + name
				}
				rev := ""
				if s.Revision != nil {
					rev = " @" + vcs.Revision{Hash: *s.Revision}.Short()
				}
				fmt.Fprintf(w, "  %-9s %s%s (%dms)\n", s.Status, name, rev, s.DurationMS)
			}

			fmt.Fprintf(w, "\nCommands:\n")
			for _, s := range steps {
				var argv []string
				if err := json.Unmarshal([]byte(s.Args), &argv); err != nil {
					argv = []string{s.Args}
				}
				fmt.Fprintf(w, "  %-9s [%s/%s] %s (exit %d)\n",
					s.Status, s.Stage, s.Step, strings.Join(argv, " "), s.ExitCode)
			}
			return nil
		},
	}
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete recorded runs with their stages and commands",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			for _, id := range args {
				if err := store.DeleteRun(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted run %s\n", id)
			}
			return nil
		},
	}
}
