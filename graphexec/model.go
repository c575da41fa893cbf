package graphexec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
)

// InputRef is one incoming edge of a Node: the name of the producing node
// (or weight), the output slot it reads, and whether the edge is a pure
// control dependency that carries no data.
type InputRef struct {
	Name    string
	Slot    int
	Control bool
}

// String returns the reference in the textual "name:slot" / "^name" form
// accepted by ParseRef.
func (r InputRef) String() string {
	if r.Control {
		return "^" + r.Name
	}
	if r.Slot == 0 {
		return r.Name
	}
	return fmt.Sprintf("%s:%d", r.Name, r.Slot)
}

// ParseRef parses a textual node reference: "name", "name:slot" or "^name"
// for control dependencies.
func ParseRef(ref string) InputRef {
	var out InputRef
	if strings.HasPrefix(ref, "^") {
		out.Control = true
		ref = ref[1:]
	}
	if idx := strings.LastIndexByte(ref, ':'); idx > 0 {
		if slot, err := strconv.Atoi(ref[idx+1:]); err == nil {
			out.Name = ref[:idx]
			out.Slot = slot
			return out
		}
	}
	out.Name = ref
	return out
}

// Node is a single operation instance in a Graph. Nodes are immutable once
// the owning graph has been finalized. Children are kept as names into the
// graph's node table, never as back-pointers.
type Node struct {
	Name     string
	Op       string
	Category OpCategory
	Inputs   []InputRef

	// OutputNames names the declared output slots. A node with an empty
	// list has a single anonymous output slot.
	OutputNames []string

	// Attrs holds the decoded attribute parameters. Decoding the wire
	// format is the caller's concern; by the time a Node reaches the
	// executor the values are already plain Go values (or tensors).
	Attrs map[string]any

	// dataConsumers counts the data (non-control) input references that
	// non-control children hold into this node, across all slots. It is
	// the initial remaining-consumer count for lifecycle accounting.
	dataConsumers int
}

// NumOutputs returns the number of declared output slots (at least 1).
func (n *Node) NumOutputs() int {
	if len(n.OutputNames) == 0 {
		return 1
	}
	return len(n.OutputNames)
}

// AttrString returns a string attribute.
func (n *Node) AttrString(key string) (string, bool) {
	v, ok := n.Attrs[key].(string)
	return v, ok
}

// AttrInt returns an integer attribute, coercing the numeric types a
// decoder may have produced.
func (n *Node) AttrInt(key string) (int, bool) {
	switch v := n.Attrs[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// AttrInts returns an integer-list attribute.
func (n *Node) AttrInts(key string) ([]int, bool) {
	switch v := n.Attrs[key].(type) {
	case []int:
		return v, true
	case []any:
		out := make([]int, len(v))
		for ii, e := range v {
			switch x := e.(type) {
			case int:
				out[ii] = x
			case int64:
				out[ii] = int(x)
			case float64:
				out[ii] = int(x)
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}

// Graph is an arena of named nodes plus the designated input/output subsets
// and nested function subgraphs. It is mutable while being assembled and
// immutable after Finalize.
type Graph struct {
	Name string

	// InputNames and OutputNames are the graph's declared default
	// boundary, in declaration order.
	InputNames  []string
	OutputNames []string

	nodes     map[string]*Node
	nodeOrder []string
	initNodes []string

	// children maps a producer name (node or weight) to the names of the
	// nodes consuming any of its outputs, in declaration order.
	children map[string][]string

	functions map[string]*Graph
	finalized bool
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:      name,
		nodes:     make(map[string]*Node),
		children:  make(map[string][]string),
		functions: make(map[string]*Graph),
	}
}

// AddNode adds a node to the graph. Node names must be unique within the
// graph. If the node's category is unset it is inferred from the op name.
func (g *Graph) AddNode(node *Node) error {
	if g.finalized {
		return errors.Errorf("graph %q is finalized, cannot add node %q", g.Name, node.Name)
	}
	if node.Name == "" {
		return errors.Errorf("graph %q: node with empty name", g.Name)
	}
	if _, found := g.nodes[node.Name]; found {
		return errors.Errorf("graph %q: duplicate node name %q", g.Name, node.Name)
	}
	if node.Category == CategoryUnknown {
		node.Category = CategoryForOp(node.Op)
	}
	g.nodes[node.Name] = node
	g.nodeOrder = append(g.nodeOrder, node.Name)
	return nil
}

// AddFunction registers a nested function subgraph under the given name.
// The subgraph's nodes are a namespace disjoint from the parent's.
func (g *Graph) AddFunction(name string, fn *Graph) error {
	if g.finalized {
		return errors.Errorf("graph %q is finalized, cannot add function %q", g.Name, name)
	}
	if _, found := g.functions[name]; found {
		return errors.Errorf("graph %q: duplicate function name %q", g.Name, name)
	}
	g.functions[name] = fn
	return nil
}

// Finalize freezes the graph: it indexes children adjacency and the
// initializer nodes (nodes with no inputs, which must run for their side
// effects or constant outputs). Must be called once before execution.
func (g *Graph) Finalize() error {
	if g.finalized {
		return nil
	}
	for _, fn := range g.functions {
		if err := fn.Finalize(); err != nil {
			return errors.WithMessagef(err, "finalizing function of graph %q", g.Name)
		}
	}
	for _, inputName := range g.InputNames {
		if g.nodes[inputName] == nil {
			return errors.Errorf("graph %q declares input %q but has no such node", g.Name, inputName)
		}
	}
	for _, outputName := range g.OutputNames {
		if g.nodes[ParseRef(outputName).Name] == nil {
			return errors.Errorf("graph %q declares output %q but has no such node", g.Name, outputName)
		}
	}
	for _, name := range g.nodeOrder {
		node := g.nodes[name]
		if len(node.Inputs) == 0 {
			g.initNodes = append(g.initNodes, name)
		}
		seenProducers := sets.Make[string]()
		for _, ref := range node.Inputs {
			if ref.Control {
				continue
			}
			producer := g.nodes[ref.Name]
			if producer != nil && node.Category != CategoryControl {
				producer.dataConsumers++
			}
			if seenProducers.Has(ref.Name) {
				continue
			}
			seenProducers.Insert(ref.Name)
			g.children[ref.Name] = append(g.children[ref.Name], name)
		}
		// Control edges also make the node a child for scheduling,
		// but never contribute to disposal accounting.
		for _, ref := range node.Inputs {
			if !ref.Control || seenProducers.Has(ref.Name) {
				continue
			}
			seenProducers.Insert(ref.Name)
			g.children[ref.Name] = append(g.children[ref.Name], name)
		}
	}
	g.finalized = true
	return nil
}

// Node returns the node with the given name, or nil.
func (g *Graph) Node(name string) *Node {
	return g.nodes[name]
}

// NumNodes returns the number of nodes in the graph (excluding functions).
func (g *Graph) NumNodes() int { return len(g.nodeOrder) }

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, name := range g.nodeOrder {
		out = append(out, g.nodes[name])
	}
	return out
}

// InitNodes returns the names of the initializer nodes: nodes with no
// inputs, in declaration order.
func (g *Graph) InitNodes() []string { return g.initNodes }

// ChildrenOf returns the names of the nodes consuming outputs of the given
// producer name (a node or a weight), in declaration order.
func (g *Graph) ChildrenOf(producer string) []string {
	return g.children[producer]
}

// Function returns the nested function subgraph with the given name, or nil.
func (g *Graph) Function(name string) *Graph {
	return g.functions[name]
}

// FunctionNames returns the names of the nested function subgraphs.
func (g *Graph) FunctionNames() []string {
	out := make([]string, 0, len(g.functions))
	for name := range g.functions {
		out = append(out, name)
	}
	return out
}
