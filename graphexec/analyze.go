package graphexec

import (
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// subgraphInfo is the result of analyzing which nodes must run to produce
// the requested outputs from the supplied inputs.
type subgraphInfo struct {
	// used holds the names of every node (and terminus input/weight)
	// reachable backward from the outputs.
	used sets.Set[string]

	// missingInputs lists required ancestors with no supplied value that
	// are neither weights nor initializer nodes, sorted.
	missingInputs []string

	// dynamicNode is the first control-flow or dynamic node encountered,
	// in breadth-first order from the outputs; nil when the subgraph is
	// fully static.
	dynamicNode *Node

	// syncInputs names the already-visited consumers of dynamicNode:
	// supplying those directly as inputs on a future call avoids the
	// dynamic node.
	syncInputs []string
}

// analyzeSubgraph walks backward from the requested outputs along input
// edges. Traversal stops at a terminus: a supplied input, a weight, or an
// initializer node (no inputs). The walk is breadth-first over the outputs
// in their given order, so dynamicNode selection is deterministic.
func analyzeSubgraph(g *Graph, inputs sets.Set[string], outputs []*Node,
	weights map[string][]*tensors.Tensor) *subgraphInfo {
	info := &subgraphInfo{used: sets.Make[string]()}
	missing := sets.Make[string]()

	frontier := slices.Clone(outputs)
	for len(frontier) > 0 {
		node := frontier[0]
		frontier = frontier[1:]
		if info.used.Has(node.Name) {
			continue
		}
		info.used.Insert(node.Name)
		if inputs.Has(node.Name) {
			continue
		}
		if _, isWeight := weights[node.Name]; isWeight {
			continue
		}
		if node.Op == "Placeholder" {
			// Reachable placeholder with no supplied value: a dead
			// end, nothing upstream can produce it.
			missing.Insert(node.Name)
			continue
		}
		if node.Category == CategoryControl || node.Category == CategoryDynamic {
			if info.dynamicNode == nil {
				info.dynamicNode = node
				for _, childName := range g.ChildrenOf(node.Name) {
					if info.used.Has(childName) {
						info.syncInputs = append(info.syncInputs, childName)
					}
				}
			}
		}
		if len(node.Inputs) == 0 {
			// Initializer node: must run, nothing to walk past.
			continue
		}
		for _, ref := range node.Inputs {
			if inputs.Has(ref.Name) {
				info.used.Insert(ref.Name)
				continue
			}
			if _, isWeight := weights[ref.Name]; isWeight {
				info.used.Insert(ref.Name)
				continue
			}
			producer := g.Node(ref.Name)
			if producer == nil {
				missing.Insert(ref.Name)
				continue
			}
			if producer.Op == "Placeholder" {
				// A placeholder with no supplied value is a dead
				// end: nothing upstream can produce it.
				missing.Insert(ref.Name)
				continue
			}
			frontier = append(frontier, producer)
		}
	}
	info.missingInputs = slices.Sorted(maps.Keys(missing))
	return info
}
