package depgraph

import (
	"strings"

	"github.com/gomlx/steptrace/pkg/trace"
	"github.com/pkg/errors"
)

// Splice merges the loss sub-graph sub (built with Builder.Loss) into g, attaching it to
// g's output number head.
//
// For each edge u -> v of sub:
//   - u == "I/O": the loss consumes the model output, so the edges FW.<out> -> v and
//     BW.<v> -> BW.<out> are added, where <out> is the operator producing output head.
//   - u or v is an "OUTPUT<j>" marker: it's replaced by g's "OUTPUT<head>" node.
//   - Otherwise the edge is copied verbatim.
//
// Nodes created by Splice are marked as spliced and are not exported by MarshalDOT.
func (g *Graph) Splice(sub *Graph, head int) error {
	if head < 0 || head >= len(g.outputs) {
		return errors.Wrapf(trace.ErrConfiguration, "depgraph.Splice: loss head %d out of range, graph has %d outputs",
			head, len(g.outputs))
	}
	out := g.outputs[head]
	outFW, outBW := FWPrefix+out, BWPrefix+out
	marker := OutputNode(head)

	addEdge := func(from, to string) {
		for _, id := range [2]string{from, to} {
			if !g.Has(id) {
				g.AddNode(id, sub.opType(id))
				g.spliced.Insert(id)
			}
		}
		g.AddEdge(from, to)
	}
	for _, u := range sub.order {
		for _, v := range sub.succ[u].Elements() {
			switch {
			case u == IONode:
				addEdge(outFW, v)
				if strings.HasPrefix(v, FWPrefix) {
					addEdge(BWPrefix+v[len(FWPrefix):], outBW)
				}
			default:
				from, to := u, v
				if _, ok := IsOutputNode(from); ok {
					from = marker
				}
				if _, ok := IsOutputNode(to); ok {
					to = marker
				}
				addEdge(from, to)
			}
		}
	}
	return nil
}

func (g *Graph) opType(id string) string {
	if n := g.nodes[id]; n != nil {
		return n.OpType
	}
	return ""
}
