package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gomlx/graphexec/graphexec"
	"github.com/gomlx/graphexec/internal/graphio"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Inputs  []string
	Outputs []string
	Async   bool
	Keep    bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <graph.yaml>",
		Short: "Execute a graph description",
		Long: `Execute a graph description with the given inputs.

Inputs are float32 tensors in the form name=v1,v2,... with an optional
shape suffix: name=1,2,3,4@2,2. Without --async the static path is tried
first and execution falls back to the control-flow-aware scheduler when
the graph requires it.

Example:
  graphrun run model.yaml --input x=1,2,3 --output y`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "input tensor as name=v1,v2,...[@d1,d2,...] (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Outputs, "output", nil, "output to fetch (repeatable; default: the graph's declared outputs)")
	cmd.Flags().BoolVar(&opts.Async, "async", false, "skip the static path and use the control-flow-aware scheduler directly")
	cmd.Flags().BoolVar(&opts.Keep, "keep", false, "retain and list every intermediate tensor of the run")

	return cmd
}

func runGraph(cmd *cobra.Command, opts *RunOptions, path string) error {
	g, weights, err := graphio.Load(path)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(opts.Inputs)
	if err != nil {
		return err
	}

	config := graphexec.DefaultConfig()
	if opts.Keep {
		config.KeepIntermediateTensors = true
	}
	exec, err := graphexec.NewExecutor(g, weights, config)
	if err != nil {
		return err
	}

	out, outputNames, err := execute(exec, opts, inputs)
	if err != nil {
		return err
	}
	for ii, t := range out {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", outputNames[ii], t.Value())
	}
	if opts.Keep {
		retained := exec.IntermediateTensors()
		for _, key := range slices.Sorted(maps.Keys(retained)) {
			for slot, t := range retained[key] {
				if t == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "\t%s:%d = (dead)\n", key, slot)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\t%s:%d = %v\n", key, slot, t.Value())
			}
		}
	}
	return nil
}

func execute(exec *graphexec.Executor, opts *RunOptions, inputs map[string]*tensors.Tensor) ([]*tensors.Tensor, []string, error) {
	outputNames := opts.Outputs
	if len(outputNames) == 0 {
		outputNames = exec.Graph().OutputNames
	}
	if opts.Async {
		out, err := exec.ExecuteAsync(inputs, outputNames...)
		return out, outputNames, err
	}
	out, err := exec.Execute(inputs, outputNames...)
	var dynErr *graphexec.UnsupportedDynamicOpError
	if errors.As(err, &dynErr) {
		out, err = exec.ExecuteAsync(inputs, outputNames...)
	}
	return out, outputNames, err
}

// parseInputs decodes the --input flags into named float32 tensors.
func parseInputs(flags []string) (map[string]*tensors.Tensor, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	inputs := make(map[string]*tensors.Tensor, len(flags))
	for _, raw := range flags {
		name, spec, found := strings.Cut(raw, "=")
		if !found || name == "" {
			return nil, errors.Errorf("malformed --input %q, expected name=v1,v2,...", raw)
		}
		valuesPart, dimsPart, hasDims := strings.Cut(spec, "@")
		var values []float32
		for _, field := range strings.Split(valuesPart, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return nil, errors.Wrapf(err, "value %q of --input %q", field, name)
			}
			values = append(values, float32(v))
		}
		dims := []int{len(values)}
		if hasDims {
			dims = dims[:0]
			size := 1
			for _, field := range strings.Split(dimsPart, ",") {
				d, err := strconv.Atoi(strings.TrimSpace(field))
				if err != nil {
					return nil, errors.Wrapf(err, "dimension %q of --input %q", field, name)
				}
				dims = append(dims, d)
				size *= d
			}
			if size != len(values) {
				return nil, errors.Errorf("--input %q: shape %v needs %d values, got %d", name, dims, size, len(values))
			}
		}
		inputs[name] = tensors.FromFlatDataAndDimensions(values, dims...)
	}
	return inputs, nil
}
