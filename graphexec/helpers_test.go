package graphexec

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/go-xla/pkg/types/dtypes"
	"github.com/stretchr/testify/require"
)

// Shared graph builders for the package tests.

func refs(in ...string) []InputRef {
	out := make([]InputRef, len(in))
	for ii, r := range in {
		out[ii] = ParseRef(r)
	}
	return out
}

func addNode(t *testing.T, g *Graph, name, op string, inputs []string, attrs map[string]any) {
	t.Helper()
	require.NoError(t, g.AddNode(&Node{Name: name, Op: op, Inputs: refs(inputs...), Attrs: attrs}))
}

func scalarF32(v float32) *tensors.Tensor {
	return tensors.FromAnyValue(v)
}

func vecF32(values ...float32) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(values, len(values))
}

func f32Values(t *testing.T, tensor *tensors.Tensor) []float32 {
	t.Helper()
	require.NotNil(t, tensor)
	require.Equal(t, dtypes.Float32, tensor.Shape().DType)
	return tensors.MustCopyFlatData[float32](tensor)
}

func placeholderAttrs(dims ...int) map[string]any {
	return map[string]any{"dtype": dtypes.Float32, "shape": dims}
}

// linearGraph is y = x*w with a single weight w=[2].
func linearGraph(t *testing.T) (*Graph, map[string][]*tensors.Tensor) {
	t.Helper()
	g := NewGraph("linear")
	addNode(t, g, "x", "Placeholder", nil, placeholderAttrs(1))
	addNode(t, g, "y", "Mul", []string{"x", "w"}, nil)
	g.InputNames = []string{"x"}
	g.OutputNames = []string{"y"}
	weights := map[string][]*tensors.Tensor{"w": {vecF32(2)}}
	return g, weights
}

// chainGraph is c = Neg(Neg(x)): one disposable intermediate (b).
func chainGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph("chain")
	addNode(t, g, "x", "Placeholder", nil, placeholderAttrs(2))
	addNode(t, g, "b", "Neg", []string{"x"}, nil)
	addNode(t, g, "c", "Neg", []string{"b"}, nil)
	g.InputNames = []string{"x"}
	g.OutputNames = []string{"c"}
	return g
}

// diamondGraph is d = Neg(a) + Relu(a).
func diamondGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph("diamond")
	addNode(t, g, "a", "Placeholder", nil, placeholderAttrs(2))
	addNode(t, g, "b", "Neg", []string{"a"}, nil)
	addNode(t, g, "c", "Relu", []string{"a"}, nil)
	addNode(t, g, "d", "Add", []string{"b", "c"}, nil)
	g.InputNames = []string{"a"}
	g.OutputNames = []string{"d"}
	return g
}

// whileGraph counts a scalar from 0 up to 3 with the classic dataflow loop
// shape: Enter/Merge/Less/LoopCond/Switch/Add/NextIteration/Exit.
func whileGraph(t *testing.T) *Graph {
	return countingLoopGraph(t, "while3", 3)
}

func countingLoopGraph(t *testing.T, name string, limit float32) *Graph {
	t.Helper()
	g := NewGraph(name)
	addNode(t, g, "zero", "Const", nil, map[string]any{"value": scalarF32(0)})
	addNode(t, g, "limit", "Const", nil, map[string]any{"value": scalarF32(limit)})
	addNode(t, g, "one", "Const", nil, map[string]any{"value": scalarF32(1)})
	addNode(t, g, "enter", "Enter", []string{"zero"}, map[string]any{"frame": "while"})
	addNode(t, g, "merge", "Merge", []string{"enter", "next"}, nil)
	addNode(t, g, "less", "Less", []string{"merge", "limit"}, nil)
	addNode(t, g, "cond", "LoopCond", []string{"less"}, nil)
	addNode(t, g, "switch", "Switch", []string{"merge", "cond"}, nil)
	addNode(t, g, "body", "Add", []string{"switch:1", "one"}, nil)
	addNode(t, g, "next", "NextIteration", []string{"body"}, nil)
	addNode(t, g, "exit", "Exit", []string{"switch:0"}, nil)
	g.OutputNames = []string{"exit"}
	return g
}

// whereGraph is idx = Identity(Where(x)): one dynamic node feeding one
// static consumer.
func whereGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph("where")
	addNode(t, g, "x", "Placeholder", nil, placeholderAttrs(4))
	addNode(t, g, "nz", "Where", []string{"x"}, nil)
	addNode(t, g, "idx", "Identity", []string{"nz"}, nil)
	g.InputNames = []string{"x"}
	g.OutputNames = []string{"idx"}
	return g
}

// callGraph invokes a nested "double" function subgraph; the function reads
// the shared weight "two".
func callGraph(t *testing.T) (*Graph, map[string][]*tensors.Tensor) {
	t.Helper()
	double := NewGraph("double")
	addNode(t, double, "fx", "Placeholder", nil, placeholderAttrs(1))
	addNode(t, double, "fy", "Mul", []string{"fx", "two"}, nil)
	double.InputNames = []string{"fx"}
	double.OutputNames = []string{"fy"}

	g := NewGraph("caller")
	addNode(t, g, "x", "Placeholder", nil, placeholderAttrs(1))
	addNode(t, g, "call", "Call", []string{"x"}, map[string]any{"function": "double"})
	g.InputNames = []string{"x"}
	g.OutputNames = []string{"call"}
	require.NoError(t, g.AddFunction("double", double))
	weights := map[string][]*tensors.Tensor{"two": {vecF32(2)}}
	return g, weights
}

func newTestExecutor(t *testing.T, g *Graph, weights map[string][]*tensors.Tensor) *Executor {
	t.Helper()
	exec, err := NewExecutor(g, weights, Config{})
	require.NoError(t, err)
	return exec
}
