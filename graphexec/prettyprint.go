package graphexec

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
)

// String implements fmt.Stringer, and pretty prints graph information.
func (g *Graph) String() string {
	var buf bytes.Buffer
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("Graph %q:\n", g.Name)
	w("\t# nodes:\t%d\n", g.NumNodes())
	w("\tInputs:\t%q\n", g.InputNames)
	w("\tOutputs:\t%q\n", g.OutputNames)

	opsSet := sets.Make[string]()
	controlFlow := false
	dynamic := false
	for _, node := range g.Nodes() {
		opsSet.Insert(node.Op)
		switch node.Category {
		case CategoryControl:
			controlFlow = true
		case CategoryDynamic:
			dynamic = true
		}
	}
	ops := make([]string, 0, len(opsSet))
	for op := range opsSet {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	w("\tOps:\t%q\n", ops)
	if len(g.initNodes) > 0 {
		w("\tInitializer nodes:\t%q\n", g.initNodes)
	}
	if controlFlow || dynamic {
		w("\tRequires dynamic path:\tcontrol-flow=%v, dynamic-ops=%v\n", controlFlow, dynamic)
	}

	if len(g.functions) > 0 {
		names := g.FunctionNames()
		slices.Sort(names)
		w("\tFunctions:\t%q\n", names)
	}
	return buf.String()
}
