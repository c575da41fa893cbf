// Package cli implements the graphrun command line tool: loading YAML graph
// descriptions and executing them from the shell.
package cli

import (
	goflag "flag"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the root command for the graphrun CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "graphrun",
		Short: "Execute dataflow graph descriptions",
		Long: `graphrun loads a YAML dataflow graph description and runs it on the
graphexec engine: statically when the graph is a plain DAG, on the
control-flow-aware scheduler when it contains loops, conditionals or
dynamic ops.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.Verbose {
				_ = goflag.Set("v", "2")
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose execution logging")

	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}
