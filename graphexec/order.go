package graphexec

import (
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// orderNodes produces a dependency-respecting execution order over the used
// subgraph. Weights count as already produced and do not appear in the
// order; supplied inputs do appear (seeded, skipped at run time) and come
// first, along with initializer nodes. Ties are broken by original
// declaration order, so repeated calls on the same arguments yield identical
// orders.
//
// Valid only for control-flow-free subgraphs: a cycle (which can only occur
// legitimately inside control-flow groups) is a compilation error.
func orderNodes(g *Graph, used, inputs sets.Set[string],
	weights map[string][]*tensors.Tensor) ([]*Node, error) {
	var candidates []*Node
	for _, node := range g.Nodes() {
		if !used.Has(node.Name) {
			continue
		}
		if _, isWeight := weights[node.Name]; isWeight {
			continue
		}
		candidates = append(candidates, node)
	}

	done := sets.Make[string]()
	for name := range used {
		if inputs.Has(name) {
			done.Insert(name)
			continue
		}
		if _, isWeight := weights[name]; isWeight {
			done.Insert(name)
		}
	}

	// Supplied inputs are seeded before the run: their own producers are
	// outside the subgraph and never block them.
	ready := func(node *Node) bool {
		if inputs.Has(node.Name) {
			return true
		}
		for _, ref := range node.Inputs {
			if !done.Has(ref.Name) {
				return false
			}
		}
		return true
	}

	order := make([]*Node, 0, len(candidates))
	placed := sets.Make[string]()
	for len(order) < len(candidates) {
		progress := false
		for _, node := range candidates {
			if placed.Has(node.Name) || !ready(node) {
				continue
			}
			order = append(order, node)
			placed.Insert(node.Name)
			done.Insert(node.Name)
			progress = true
		}
		if !progress {
			var stuck []string
			for _, node := range candidates {
				if !placed.Has(node.Name) {
					stuck = append(stuck, node.Name)
				}
			}
			return nil, errors.Errorf("graph %q has a dependency cycle among nodes %q",
				g.Name, stuck)
		}
	}
	return order, nil
}

// compileKey builds the canonical cache key for a compiled order: the
// sorted input names and sorted output names.
func compileKey(inputNames, outputNames []string) string {
	ins := slices.Sorted(slices.Values(inputNames))
	outs := slices.Sorted(slices.Values(outputNames))
	return strings.Join(ins, ",") + "|" + strings.Join(outs, ",")
}
