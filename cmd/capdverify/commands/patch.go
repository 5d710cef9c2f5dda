package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capdgroup/capdverify/pkg/patch"
	"github.com/capdgroup/capdverify/pkg/starter"
)

func newPatchCommand() *cobra.Command {
	var (
		prefix string
		marker string
	)

	defaults := starter.DefaultConfig("")

	cmd := &cobra.Command{
		Use:   "patch <file>",
		Short: "Comment out lines starting with a prefix",
		Long: `Rewrite a file in place, prefixing every line that starts with --prefix
by --marker. The file is replaced atomically; on any error it is left
unchanged. This is the edit the install-linked starter flow applies to the
copied Makefile.`,
		Example: `  capdverify patch workdir/projectStarter/Makefile
  capdverify patch Makefile --prefix CAPDLIBDIR --marker "#"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := patch.NewPatcher(a.logger).Apply(args[0], patch.CommentOut(prefix, marker)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Patched %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", defaults.BinDirVar, "line prefix to comment out")
	cmd.Flags().StringVar(&marker, "marker", defaults.CommentMarker, "text inserted before matching lines")

	return cmd
}
