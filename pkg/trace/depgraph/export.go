package depgraph

import (
	"github.com/gomlx/steptrace/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// dotNode adapts a Node to gonum's graph and DOT encoding interfaces.
type dotNode struct {
	id   int64
	node *Node
}

var (
	_ graph.Node          = dotNode{}
	_ dot.Node            = dotNode{}
	_ encoding.Attributer = dotNode{}
)

func (n dotNode) ID() int64     { return n.id }
func (n dotNode) DOTID() string { return n.node.ID }
func (n dotNode) Attributes() []encoding.Attribute {
	return []encoding.Attribute{{Key: "op", Value: n.node.OpType}}
}

// gonumGraph converts g to a gonum directed graph. Node ids follow insertion order.
// If keep is not nil, only nodes for which it returns true are converted.
func (g *Graph) gonumGraph(keep func(id string) bool) (*simple.DirectedGraph, map[string]dotNode) {
	dg := simple.NewDirectedGraph()
	byName := make(map[string]dotNode, len(g.order))
	for _, id := range g.order {
		if keep != nil && !keep(id) {
			continue
		}
		n := dotNode{id: int64(len(byName)), node: g.nodes[id]}
		byName[id] = n
		dg.AddNode(n)
	}
	for _, from := range g.order {
		fn, found := byName[from]
		if !found {
			continue
		}
		for _, to := range g.succ[from].Elements() {
			tn, found := byName[to]
			if !found || from == to {
				continue
			}
			dg.SetEdge(dg.NewEdge(fn, tn))
		}
	}
	return dg, byName
}

// MarshalDOT exports the main graph in Graphviz DOT format, with an "op" attribute per
// node. Nodes introduced by spliced loss sub-graphs are omitted.
func (g *Graph) MarshalDOT(name string) ([]byte, error) {
	dg, _ := g.gonumGraph(func(id string) bool { return !g.spliced.Has(id) })
	data, err := dot.Marshal(dg, name, "", "  ")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal dependency graph %q to DOT", name)
	}
	return data, nil
}

// WriteDOT writes MarshalDOT's output to filePath atomically.
func (g *Graph) WriteDOT(filePath, name string) error {
	data, err := g.MarshalDOT(name)
	if err != nil {
		return err
	}
	return errors.WithMessagef(fsutil.WriteFileAtomic(filePath, data, 0o644), "saving dependency graph")
}
