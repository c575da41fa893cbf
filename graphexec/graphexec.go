// Package graphexec executes dataflow computation graphs: operation nodes
// connected by data and control edges, as produced by a model converter.
//
//   - NewExecutor: builds an executor over a finalized Graph and its weights.
//   - Executor.Execute: the fast static path. It compiles and caches a
//     deterministic node order per (input-set, output-set) and fails up front
//     when the requested subgraph needs control flow or dynamic ops.
//   - Executor.ExecuteAsync: the control-flow-aware path. A work-stack
//     scheduler that handles loops, conditionals and asynchronous kernels.
//
// Intermediate tensors are reclaimed by remaining-consumer reference counts
// as execution proceeds; inputs, weights and requested outputs are never
// disposed mid-run. An opt-in debug mode retains a cloned snapshot of every
// intermediate value instead.
package graphexec

import (
	"os"
	"strconv"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// KeepIntermediateTensorsEnv is the ambient toggle consulted by
// DefaultConfig. A missing or empty value means disabled; a value that is
// not a boolean logs a warning and also means disabled.
const KeepIntermediateTensorsEnv = "GRAPHEXEC_KEEP_INTERMEDIATE_TENSORS"

// Config controls one executor. It is read once at the start of each run,
// never mid-run.
type Config struct {
	// KeepIntermediateTensors clones and retains every intermediate
	// value produced during a run, for inspection through
	// Executor.IntermediateTensors. At most one snapshot is retained per
	// executor: starting a new run releases the previous one.
	KeepIntermediateTensors bool
}

// DefaultConfig returns the configuration derived from the process
// environment.
func DefaultConfig() Config {
	var config Config
	raw := os.Getenv(KeepIntermediateTensorsEnv)
	if raw == "" {
		return config
	}
	keep, err := strconv.ParseBool(raw)
	if err != nil {
		klog.Warningf("graphexec: ignoring malformed %s=%q: %v", KeepIntermediateTensorsEnv, raw, err)
		return config
	}
	config.KeepIntermediateTensors = keep
	return config
}

// Executor runs a Graph. It owns a compiled-order cache and the retained
// debug snapshot; the weight map and resource registry are shared by
// reference with nested function executors. An Executor is not safe for
// concurrent use: scheduling is single-threaded and cooperative.
type Executor struct {
	graph     *Graph
	weights   map[string][]*tensors.Tensor
	resources *ResourceRegistry
	config    Config

	customOps     map[string]OpFunc
	compiled      map[string][]*Node
	functionExecs map[string]*Executor
	retained      *retainedTensors

	// disposeFunc, when set, replaces tensor finalization in the per-run
	// lifecycle accounting; tests use it to observe disposal without
	// freeing real buffers.
	disposeFunc func(values []*tensors.Tensor)

	parent *Executor
}

// NewExecutor creates an executor for the graph with the given weight map
// (weight name to its output values). The graph is finalized if it was not
// already.
func NewExecutor(g *Graph, weights map[string][]*tensors.Tensor, config Config) (*Executor, error) {
	if g == nil {
		return nil, errors.New("NewExecutor: nil graph")
	}
	if err := g.Finalize(); err != nil {
		return nil, errors.WithMessagef(err, "NewExecutor(%q)", g.Name)
	}
	if weights == nil {
		weights = make(map[string][]*tensors.Tensor)
	}
	return &Executor{
		graph:         g,
		weights:       weights,
		resources:     NewResourceRegistry(),
		config:        config,
		customOps:     make(map[string]OpFunc),
		compiled:      make(map[string][]*Node),
		functionExecs: make(map[string]*Executor),
		retained:      newRetainedTensors(),
	}, nil
}

// WithResources sets the resource registry handed to kernels. Returns the
// executor for chaining.
func (e *Executor) WithResources(r *ResourceRegistry) *Executor {
	if r != nil {
		e.resources = r
	}
	return e
}

// Graph returns the executed graph.
func (e *Executor) Graph() *Graph { return e.graph }

// IntermediateTensors returns the cloned intermediate values retained
// during the last run, keyed by context-qualified node identity. Empty
// unless Config.KeepIntermediateTensors was set.
func (e *Executor) IntermediateTensors() map[string][]*tensors.Tensor {
	return e.retained.tensors()
}

// DisposeIntermediateTensors releases the retained snapshot.
func (e *Executor) DisposeIntermediateTensors() {
	e.retained.disposeAll()
}
