package graphexec

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/go-xla/pkg/types/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteLinear(t *testing.T) {
	g, weights := linearGraph(t)
	exec := newTestExecutor(t, g, weights)

	x := vecF32(3)
	out, err := exec.Execute(map[string]*tensors.Tensor{"x": x})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []float32{6}, f32Values(t, out[0]))

	// The supplied input survives the run untouched.
	require.Equal(t, []float32{3}, f32Values(t, x))
}

func TestExecuteChain(t *testing.T) {
	g := chainGraph(t)
	exec := newTestExecutor(t, g, nil)

	out, err := exec.Execute(map[string]*tensors.Tensor{"x": vecF32(1, -2)})
	require.NoError(t, err)
	require.Equal(t, []float32{1, -2}, f32Values(t, out[0]))
}

func TestExecuteExplicitOutputs(t *testing.T) {
	g := diamondGraph(t)
	exec := newTestExecutor(t, g, nil)

	out, err := exec.Execute(map[string]*tensors.Tensor{"a": vecF32(2, -3)}, "b", "d")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, []float32{-2, 3}, f32Values(t, out[0]))
	require.Equal(t, []float32{0, 3}, f32Values(t, out[1]))
}

func TestCompileCache(t *testing.T) {
	g, weights := linearGraph(t)
	exec := newTestExecutor(t, g, weights)

	first, err := exec.Compile([]string{"x"}, []string{"y"})
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, orderNames(first))
	second, err := exec.Compile([]string{"x"}, []string{"y"})
	require.NoError(t, err)
	require.Equal(t, orderNames(first), orderNames(second))
	require.Len(t, exec.compiled, 1)

	// A different output set compiles its own order.
	_, err = exec.Compile([]string{"x"}, []string{"x"})
	require.NoError(t, err)
	require.Len(t, exec.compiled, 2)
}

func TestCompileErrors(t *testing.T) {
	t.Run("UnknownOutput", func(t *testing.T) {
		g, weights := linearGraph(t)
		exec := newTestExecutor(t, g, weights)
		_, err := exec.Execute(map[string]*tensors.Tensor{"x": vecF32(1)}, "nope")
		var unknownErr *UnknownOutputError
		require.ErrorAs(t, err, &unknownErr)
		require.Equal(t, "nope", unknownErr.Name)
	})

	t.Run("MissingInputs", func(t *testing.T) {
		g, weights := linearGraph(t)
		exec := newTestExecutor(t, g, weights)
		_, err := exec.Execute(nil)
		var missingErr *MissingInputsError
		require.ErrorAs(t, err, &missingErr)
		require.Equal(t, []string{"x"}, missingErr.Missing)
		require.Equal(t, []string{"y"}, missingErr.Outputs)
	})

	t.Run("DynamicOp", func(t *testing.T) {
		g := whereGraph(t)
		exec := newTestExecutor(t, g, nil)
		_, err := exec.Execute(map[string]*tensors.Tensor{"x": vecF32(0, 1, 0, 2)})
		var dynErr *UnsupportedDynamicOpError
		require.ErrorAs(t, err, &dynErr)
		require.Equal(t, "nz", dynErr.Node)
		require.Equal(t, []string{"idx"}, dynErr.SyncInputs)
		assert.Contains(t, err.Error(), "ExecuteAsync")
	})

	t.Run("SyncInputsBypassDynamicOp", func(t *testing.T) {
		// Feeding the dynamic node's consumer directly makes the rest of
		// the subgraph static.
		g := whereGraph(t)
		exec := newTestExecutor(t, g, nil)
		idx := tensors.FromFlatDataAndDimensions([]int32{1, 3}, 2, 1)
		out, err := exec.Execute(map[string]*tensors.Tensor{"idx": idx}, "idx")
		require.NoError(t, err)
		require.Same(t, idx, out[0])
	})
}

func TestValidateInputs(t *testing.T) {
	t.Run("WrongShape", func(t *testing.T) {
		g, weights := linearGraph(t)
		exec := newTestExecutor(t, g, weights)
		_, err := exec.Execute(map[string]*tensors.Tensor{"x": vecF32(1, 2)})
		var shapeErr *ShapeMismatchError
		require.ErrorAs(t, err, &shapeErr)
		require.Equal(t, "x", shapeErr.Input)
		require.Contains(t, err.Error(), "[1]")
	})

	t.Run("WrongDType", func(t *testing.T) {
		g, weights := linearGraph(t)
		exec := newTestExecutor(t, g, weights)
		wrong := tensors.FromFlatDataAndDimensions([]int32{1}, 1)
		_, err := exec.Execute(map[string]*tensors.Tensor{"x": wrong})
		var shapeErr *ShapeMismatchError
		require.ErrorAs(t, err, &shapeErr)
	})

	t.Run("NotANode", func(t *testing.T) {
		g, weights := linearGraph(t)
		exec := newTestExecutor(t, g, weights)
		_, err := exec.Execute(map[string]*tensors.Tensor{"ghost": vecF32(1)})
		require.ErrorContains(t, err, `"ghost"`)
	})
}

func TestCustomOp(t *testing.T) {
	g := NewGraph("custom")
	addNode(t, g, "x", "Placeholder", nil, placeholderAttrs(2))
	addNode(t, g, "p", "PlusOne", []string{"x"}, nil)
	g.InputNames = []string{"x"}
	g.OutputNames = []string{"p"}
	exec := newTestExecutor(t, g, nil)

	require.NoError(t, exec.RegisterOp("PlusOne", func(call *OpCall) (OpResult, error) {
		in, err := call.Input(0)
		if err != nil {
			return OpResult{}, err
		}
		flat := tensors.MustCopyFlatData[float32](in)
		for ii := range flat {
			flat[ii]++
		}
		return Ready(tensors.FromFlatDataAndDimensions(flat, in.Shape().Dimensions...)), nil
	}))

	out, err := exec.Execute(map[string]*tensors.Tensor{"x": vecF32(1, 2)})
	require.NoError(t, err)
	require.Equal(t, []float32{2, 3}, f32Values(t, out[0]))
}

func TestRegisterOpRejections(t *testing.T) {
	g, weights := linearGraph(t)
	exec := newTestExecutor(t, g, weights)

	noop := func(*OpCall) (OpResult, error) { return Ready(), nil }
	require.Error(t, exec.RegisterOp("Add", noop), "built-in ops cannot be overridden")
	require.NoError(t, exec.RegisterOp("Custom", noop))
	require.Error(t, exec.RegisterOp("Custom", noop), "duplicate registration")
}

func TestUnregisteredOp(t *testing.T) {
	g := NewGraph("mystery")
	addNode(t, g, "x", "Placeholder", nil, placeholderAttrs(1))
	addNode(t, g, "m", "Mystery", []string{"x"}, nil)
	g.InputNames = []string{"x"}
	g.OutputNames = []string{"m"}
	exec := newTestExecutor(t, g, nil)

	_, err := exec.Execute(map[string]*tensors.Tensor{"x": vecF32(1)})
	var unregErr *UnregisteredOpError
	require.ErrorAs(t, err, &unregErr)
	require.Equal(t, "Mystery", unregErr.Op)
	require.Equal(t, CategoryCustom, unregErr.Category)
}

func TestUnexpectedAsyncOnStaticPath(t *testing.T) {
	g := NewGraph("async")
	addNode(t, g, "x", "Placeholder", nil, placeholderAttrs(1))
	addNode(t, g, "slow", "SlowIdentity", []string{"x"}, nil)
	g.InputNames = []string{"x"}
	g.OutputNames = []string{"slow"}
	exec := newTestExecutor(t, g, nil)
	require.NoError(t, exec.RegisterOp("SlowIdentity", func(call *OpCall) (OpResult, error) {
		in, err := call.Input(0)
		if err != nil {
			return OpResult{}, err
		}
		return Pending(GoFuture(func() ([]*tensors.Tensor, error) {
			return []*tensors.Tensor{cloneTensor(in)}, nil
		})), nil
	}))

	// The static path rejects pending results.
	_, err := exec.Execute(map[string]*tensors.Tensor{"x": vecF32(5)})
	var asyncErr *UnexpectedAsyncError
	require.ErrorAs(t, err, &asyncErr)
	require.Equal(t, "slow", asyncErr.Node)

	// The control-flow-aware path awaits them.
	out, err := exec.ExecuteAsync(map[string]*tensors.Tensor{"x": vecF32(5)})
	require.NoError(t, err)
	require.Equal(t, []float32{5}, f32Values(t, out[0]))
}

func TestKeepIntermediateTensors(t *testing.T) {
	g := chainGraph(t)
	exec, err := NewExecutor(g, nil, Config{KeepIntermediateTensors: true})
	require.NoError(t, err)

	_, err = exec.Execute(map[string]*tensors.Tensor{"x": vecF32(2, 4)})
	require.NoError(t, err)

	retained := exec.IntermediateTensors()
	require.Contains(t, retained, "b")
	require.Contains(t, retained, "c")
	require.Equal(t, []float32{-2, -4}, f32Values(t, retained["b"][0]))

	// A new run replaces the snapshot; disposing empties it.
	_, err = exec.Execute(map[string]*tensors.Tensor{"x": vecF32(1, 1)})
	require.NoError(t, err)
	require.Equal(t, []float32{-1, -1}, f32Values(t, exec.IntermediateTensors()["b"][0]))
	exec.DisposeIntermediateTensors()
	require.Empty(t, exec.IntermediateTensors())
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv(KeepIntermediateTensorsEnv, "")
	require.False(t, DefaultConfig().KeepIntermediateTensors)

	t.Setenv(KeepIntermediateTensorsEnv, "true")
	require.True(t, DefaultConfig().KeepIntermediateTensors)

	t.Setenv(KeepIntermediateTensorsEnv, "not-a-bool")
	require.False(t, DefaultConfig().KeepIntermediateTensors)
}

func TestExecuteDisposalThroughRun(t *testing.T) {
	// mid's only consumer is the output node: it must still be alive while
	// that consumer runs and be reclaimed exactly once afterwards.
	g := NewGraph("dispose")
	addNode(t, g, "x", "Placeholder", nil, placeholderAttrs(1))
	addNode(t, g, "mid", "Neg", []string{"x"}, nil)
	addNode(t, g, "out", "Checkpoint", []string{"mid"}, nil)
	g.InputNames = []string{"x"}
	g.OutputNames = []string{"out"}
	exec := newTestExecutor(t, g, nil)

	var disposed [][]float32
	exec.disposeFunc = func(values []*tensors.Tensor) {
		for _, v := range values {
			if v != nil {
				disposed = append(disposed, tensors.MustCopyFlatData[float32](v))
			}
		}
	}
	disposedAtConsumer := -1
	require.NoError(t, exec.RegisterOp("Checkpoint", func(call *OpCall) (OpResult, error) {
		disposedAtConsumer = len(disposed)
		in, err := call.Input(0)
		if err != nil {
			return OpResult{}, err
		}
		return Ready(cloneTensor(in)), nil
	}))

	out, err := exec.Execute(map[string]*tensors.Tensor{"x": vecF32(4)})
	require.NoError(t, err)
	require.Equal(t, []float32{-4}, f32Values(t, out[0]))
	require.Zero(t, disposedAtConsumer, "mid was reclaimed before its consumer ran")
	require.Equal(t, [][]float32{{-4}}, disposed)
}

func TestExecuteSweepsUndrainedIntermediates(t *testing.T) {
	// b has a second consumer outside the subgraph compiled for "c", so its
	// count never drains during the run; the end-of-run sweep reclaims it.
	g := NewGraph("fanout")
	addNode(t, g, "x", "Placeholder", nil, placeholderAttrs(1))
	addNode(t, g, "b", "Neg", []string{"x"}, nil)
	addNode(t, g, "c", "Neg", []string{"b"}, nil)
	addNode(t, g, "side", "Relu", []string{"b"}, nil)
	g.InputNames = []string{"x"}
	g.OutputNames = []string{"c"}
	exec := newTestExecutor(t, g, nil)

	disposed := 0
	exec.disposeFunc = func([]*tensors.Tensor) { disposed++ }
	out, err := exec.Execute(map[string]*tensors.Tensor{"x": vecF32(5)})
	require.NoError(t, err)
	require.Equal(t, []float32{5}, f32Values(t, out[0]))
	require.Equal(t, 1, disposed)
}

func TestConstAndTransformOps(t *testing.T) {
	g := NewGraph("transforms")
	addNode(t, g, "c", "Const", nil, map[string]any{
		"value": tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3),
	})
	addNode(t, g, "shape", "Shape", []string{"c"}, nil)
	addNode(t, g, "flat", "Reshape", []string{"c"}, map[string]any{"shape": []int{-1}})
	addNode(t, g, "cat", "Concat", []string{"flat", "flat"}, map[string]any{"axis": 0})
	g.OutputNames = []string{"shape", "flat", "cat"}
	exec := newTestExecutor(t, g, nil)

	out, err := exec.Execute(nil)
	require.NoError(t, err)
	require.Equal(t, dtypes.Int32, out[0].Shape().DType)
	require.Equal(t, []int32{2, 3}, tensors.MustCopyFlatData[int32](out[0]))
	require.Equal(t, []int{6}, out[1].Shape().Dimensions)
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6, 1, 2, 3, 4, 5, 6}, f32Values(t, out[2]))
}
