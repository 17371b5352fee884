package depgraph

import (
	"slices"

	"github.com/gomlx/steptrace/pkg/trace"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph/topo"
)

// IterationOrder returns the node ids of one unrolled iteration in a topological order:
// the STEP node, which closes the cycles between iterations, is left out.
//
// Ties are broken by insertion order. It returns an error if there are cycles not
// going through STEP.
func (g *Graph) IterationOrder() ([]string, error) {
	dg, _ := g.gonumGraph(func(id string) bool { return id != StepNode })
	sorted, err := topo.SortStabilized(dg, nil)
	if err != nil {
		return nil, errors.Wrapf(trace.ErrParse, "dependency graph has cycles not broken by %q: %v", StepNode, err)
	}
	ids := make([]string, 0, len(sorted))
	for _, n := range sorted {
		ids = append(ids, n.(dotNode).node.ID)
	}
	return ids, nil
}

// CriticalPath returns the longest chain of dependent nodes in one unrolled iteration,
// weighting each node by durations[id] (missing nodes weigh 0), and the chain's total weight.
func (g *Graph) CriticalPath(durations map[string]int64) (path []string, total int64, err error) {
	order, err := g.IterationOrder()
	if err != nil {
		return nil, 0, err
	}
	if len(order) == 0 {
		return nil, 0, nil
	}
	dist := make(map[string]int64, len(order))
	prev := make(map[string]string, len(order))
	var last string
	for _, id := range order {
		best, bestPred := int64(0), ""
		for _, p := range g.Predecessors(id) {
			if p == StepNode {
				continue
			}
			if d := dist[p]; bestPred == "" || d > best {
				best, bestPred = d, p
			}
		}
		dist[id] = best + durations[id]
		prev[id] = bestPred
		if last == "" || dist[id] > dist[last] {
			last = id
		}
	}
	for id := last; id != ""; id = prev[id] {
		path = append(path, id)
	}
	slices.Reverse(path)
	return path, dist[last], nil
}
