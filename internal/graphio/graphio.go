// Package graphio loads dataflow graph descriptions from YAML documents
// into executable graphexec graphs. The format is meant for tooling and
// tests: a real model converter would build the Graph in memory instead.
package graphio

import (
	"bytes"
	"os"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/go-xla/pkg/types/dtypes"
	"github.com/gomlx/graphexec/graphexec"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Document is the YAML shape of a graph description.
type Document struct {
	Name      string                `yaml:"name"`
	Inputs    []InputSpec           `yaml:"inputs"`
	Outputs   []string              `yaml:"outputs"`
	Nodes     []NodeSpec            `yaml:"nodes"`
	Weights   map[string]TensorSpec `yaml:"weights"`
	Functions map[string]Document   `yaml:"functions"`
}

// InputSpec declares one graph input: a placeholder node with optional
// shape and dtype constraints checked against the values fed at run time.
type InputSpec struct {
	Name  string `yaml:"name"`
	DType string `yaml:"dtype"`
	Shape []int  `yaml:"shape"`
}

// NodeSpec declares one operation node. Inputs use the "name", "name:slot"
// and "^name" reference forms. Const nodes carry their tensor in Value.
type NodeSpec struct {
	Name   string         `yaml:"name"`
	Op     string         `yaml:"op"`
	Inputs []string       `yaml:"inputs"`
	Attrs  map[string]any `yaml:"attrs"`
	Value  *TensorSpec    `yaml:"value"`
}

// TensorSpec is a literal tensor: weights and Const values. An empty shape
// with a single data element is a scalar.
type TensorSpec struct {
	DType string    `yaml:"dtype"`
	Shape []int     `yaml:"shape"`
	Data  []float64 `yaml:"data"`
}

// Decode parses a YAML graph description and returns the graph plus its
// weight map. The graph is not finalized: callers may still add nodes
// before handing it to an executor.
func Decode(data []byte) (*graphexec.Graph, map[string][]*tensors.Tensor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, errors.Wrap(err, "parsing graph document")
	}
	return build(&doc)
}

// Load reads and decodes a YAML graph description file.
func Load(path string) (*graphexec.Graph, map[string][]*tensors.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading graph description %q", path)
	}
	g, weights, err := Decode(data)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "in %q", path)
	}
	return g, weights, nil
}

func build(doc *Document) (*graphexec.Graph, map[string][]*tensors.Tensor, error) {
	if doc.Name == "" {
		return nil, nil, errors.New("graph document has no name")
	}
	g := graphexec.NewGraph(doc.Name)
	g.OutputNames = doc.Outputs

	for _, input := range doc.Inputs {
		if input.Name == "" {
			return nil, nil, errors.Errorf("graph %q: input with no name", doc.Name)
		}
		attrs := make(map[string]any)
		if input.DType != "" {
			dtype, err := graphexec.DTypeByName(input.DType)
			if err != nil {
				return nil, nil, errors.WithMessagef(err, "input %q", input.Name)
			}
			attrs["dtype"] = dtype
		}
		if input.Shape != nil {
			attrs["shape"] = input.Shape
		}
		err := g.AddNode(&graphexec.Node{Name: input.Name, Op: "Placeholder", Attrs: attrs})
		if err != nil {
			return nil, nil, err
		}
		g.InputNames = append(g.InputNames, input.Name)
	}

	for _, spec := range doc.Nodes {
		if spec.Op == "" {
			return nil, nil, errors.Errorf("graph %q: node %q has no op", doc.Name, spec.Name)
		}
		node := &graphexec.Node{Name: spec.Name, Op: spec.Op, Attrs: spec.Attrs}
		for _, ref := range spec.Inputs {
			node.Inputs = append(node.Inputs, graphexec.ParseRef(ref))
		}
		if spec.Value != nil {
			t, err := spec.Value.Tensor()
			if err != nil {
				return nil, nil, errors.WithMessagef(err, "node %q value", spec.Name)
			}
			if node.Attrs == nil {
				node.Attrs = make(map[string]any)
			}
			node.Attrs["value"] = t
		}
		if err := g.AddNode(node); err != nil {
			return nil, nil, err
		}
	}

	weights := make(map[string][]*tensors.Tensor, len(doc.Weights))
	for name, spec := range doc.Weights {
		t, err := spec.Tensor()
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "weight %q", name)
		}
		weights[name] = []*tensors.Tensor{t}
	}

	for name, fnDoc := range doc.Functions {
		if fnDoc.Name == "" {
			fnDoc.Name = name
		}
		fg, fnWeights, err := build(&fnDoc)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "function %q", name)
		}
		// Function weights live in the same map as the parent's: nested
		// executors share it.
		for wName, values := range fnWeights {
			if _, found := weights[wName]; found {
				return nil, nil, errors.Errorf("weight %q declared by both graph %q and function %q", wName, doc.Name, name)
			}
			weights[wName] = values
		}
		if err := g.AddFunction(name, fg); err != nil {
			return nil, nil, err
		}
	}
	return g, weights, nil
}

// Tensor materializes the literal as a tensor of its declared dtype.
func (s *TensorSpec) Tensor() (*tensors.Tensor, error) {
	dtypeName := s.DType
	if dtypeName == "" {
		dtypeName = "float32"
	}
	dtype, err := graphexec.DTypeByName(dtypeName)
	if err != nil {
		return nil, err
	}
	size := 1
	for _, dim := range s.Shape {
		size *= dim
	}
	if len(s.Data) != size {
		return nil, errors.Errorf("tensor of shape %v needs %d elements, got %d", s.Shape, size, len(s.Data))
	}

	if len(s.Shape) == 0 {
		switch dtype {
		case dtypes.Float32:
			return tensors.FromAnyValue(float32(s.Data[0])), nil
		case dtypes.Int32:
			return tensors.FromAnyValue(int32(s.Data[0])), nil
		case dtypes.Int64:
			return tensors.FromAnyValue(int64(s.Data[0])), nil
		}
		return nil, errors.Errorf("unsupported literal dtype %s", dtype)
	}

	switch dtype {
	case dtypes.Float32:
		return tensors.FromFlatDataAndDimensions(convert[float32](s.Data), s.Shape...), nil
	case dtypes.Int32:
		return tensors.FromFlatDataAndDimensions(convert[int32](s.Data), s.Shape...), nil
	case dtypes.Int64:
		return tensors.FromFlatDataAndDimensions(convert[int64](s.Data), s.Shape...), nil
	}
	return nil, errors.Errorf("unsupported literal dtype %s", dtype)
}

func convert[T float32 | int32 | int64](data []float64) []T {
	out := make([]T, len(data))
	for ii, v := range data {
		out[ii] = T(v)
	}
	return out
}
