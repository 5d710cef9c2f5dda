package commands

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capdgroup/capdverify/pkg/orchestrator"
	"github.com/capdgroup/capdverify/pkg/runner"
)

type planStepJSON struct {
	Stage string            `json:"stage"`
	Step  string            `json:"step"`
	Args  []string          `json:"args"`
	Dir   string            `json:"dir"`
	Env   map[string]string `json:"env,omitempty"`
}

func newPlanCommand() *cobra.Command {
	var (
		incremental bool
		variants    []string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "List the commands a run would execute",
		Long: `List, in order, every external command a run would execute. Nothing is
run, the workspace is not touched and no history is recorded.`,
		Example: `  capdverify plan
  capdverify plan --variant filib --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			cmds, err := a.orchestrator().Plan(cmd.Context(), orchestrator.RunOptions{
				Mode:     modeFlag(incremental),
				Variants: variants,
			})
			if err != nil {
				return err
			}
			return printPlan(cmd, cmds)
		},
	}

	cmd.Flags().BoolVar(&incremental, "incremental", false, "plan an incremental run")
	cmd.Flags().StringSliceVar(&variants, "variant", nil, "variant to plan (repeatable, default all)")

	return cmd
}

func printPlan(cmd *cobra.Command, cmds []runner.Command) error {
	w := cmd.OutOrStdout()

	if jsonOutput {
		out := make([]planStepJSON, 0, len(cmds))
		for _, c := range cmds {
			out = append(out, planStepJSON{
				Stage: c.Stage,
				Step:  c.Step,
				Args:  c.Args,
				Dir:   c.Dir,
				Env:   c.Env,
			})
		}
		return writeJSON(w, out)
	}

	stage := ""
	for i, c := range cmds {
		if c.Stage != stage {
			stage = c.Stage
			fmt.Fprintf(w, "%s:\n", stage)
		}
		env := ""
		for _, k := range slices.Sorted(maps.Keys(c.Env)) {
			env += k + "=" + c.Env[k] + " "
		}
		fmt.Fprintf(w, "  %2d. [%s] %s%s\n      in %s\n", i+1, c.Step, env, strings.Join(c.Args, " "), c.Dir)
	}
	return nil
}
