package cli

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/gomlx/graphexec/internal/graphio"
)

// NewShowCommand creates the show command: a summary of a graph description
// without executing it.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <graph.yaml>",
		Short:         "Print a summary of a graph description",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, weights, err := graphio.Load(args[0])
			if err != nil {
				return err
			}
			if err := g.Finalize(); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), g)
			for _, name := range slices.Sorted(maps.Keys(weights)) {
				for _, t := range weights[name] {
					fmt.Fprintf(cmd.OutOrStdout(), "\tWeight %q:\t%s\n", name, t.Shape())
				}
			}
			return nil
		},
	}
}
