// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package depgraph builds the operator dependency graph of one training step from the
// framework's textual debug dump.
//
// Node ids are prefixed by role: "FW." and "BW." for the forward and backward pass of an
// operator, "Comm." for the communication of a trainable parameter, "OUTPUT<k>" for the
// k-th declared output, plus the two control nodes "STEP" and "I/O".
//
// The graph is not acyclic: the edges BW.x -> STEP and STEP -> FW.x model the boundary
// between consecutive iterations. Algorithms that need an order must use IterationOrder
// (or CriticalPath), which operate on a view of the graph with STEP removed.
package depgraph

import (
	"fmt"
	"strings"

	"github.com/gomlx/steptrace/pkg/support/sets"
	"github.com/pkg/errors"
)

// Node prefixes and names of the synthetic control nodes.
const (
	FWPrefix     = "FW."
	BWPrefix     = "BW."
	CommPrefix   = "Comm."
	OutputPrefix = "OUTPUT"
	StepNode     = "STEP"
	IONode       = "I/O"
)

// Node is one operator (or synthetic control node) of the graph.
// OpType is empty for synthetic nodes.
type Node struct {
	ID     string
	OpType string
}

// Graph is a directed graph over Node values. Parallel edges collapse into one, and
// adjacency lists keep insertion order, so annotations derived from it are deterministic.
//
// A Graph is built once and is read-only afterward: it's safe for concurrent readers.
type Graph struct {
	nodes      map[string]*Node
	order      []string
	succ, pred map[string]*sets.Ordered[string]
	numEdges   int

	// spliced holds the nodes introduced by loss sub-graphs, which are not exported.
	spliced sets.Set[string]

	// outputs holds the operator name producing each declared output, indexed by k.
	outputs []string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		succ:    make(map[string]*sets.Ordered[string]),
		pred:    make(map[string]*sets.Ordered[string]),
		spliced: sets.Make[string](),
	}
}

// AddNode adds the node with the given id, if not yet present. If opType is not empty
// and the node has no op type yet, it is set. It returns the node.
func (g *Graph) AddNode(id, opType string) *Node {
	n, found := g.nodes[id]
	if !found {
		n = &Node{ID: id}
		g.nodes[id] = n
		g.order = append(g.order, id)
		g.succ[id] = sets.MakeOrdered[string]()
		g.pred[id] = sets.MakeOrdered[string]()
	}
	if n.OpType == "" {
		n.OpType = opType
	}
	return n
}

// AddEdge from -> to, creating missing nodes without op type. Duplicated edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from, "")
	g.AddNode(to, "")
	if g.succ[from].Insert(to) {
		g.pred[to].Insert(from)
		g.numEdges++
	}
}

// Has returns whether the node id is in the graph.
func (g *Graph) Has(id string) bool {
	_, found := g.nodes[id]
	return found
}

// Node returns the node with the given id, or nil if it doesn't exist.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// Predecessors returns the sources of the incoming edges of id, in insertion order.
func (g *Graph) Predecessors(id string) []string {
	if p, found := g.pred[id]; found {
		return p.Elements()
	}
	return nil
}

// Successors returns the targets of the outgoing edges of id, in insertion order.
func (g *Graph) Successors(id string) []string {
	if s, found := g.succ[id]; found {
		return s.Elements()
	}
	return nil
}

// HasEdge returns whether the edge from -> to exists.
func (g *Graph) HasEdge(from, to string) bool {
	s, found := g.succ[from]
	return found && s.Has(to)
}

// NumNodes in the graph.
func (g *Graph) NumNodes() int { return len(g.order) }

// NumEdges in the graph.
func (g *Graph) NumEdges() int { return g.numEdges }

// NumOutputs returns the number of declared outputs.
func (g *Graph) NumOutputs() int { return len(g.outputs) }

// IsSpliced returns whether the node was introduced by a spliced loss sub-graph.
func (g *Graph) IsSpliced(id string) bool { return g.spliced.Has(id) }

// OutputNode returns the id of the marker node of the k-th output: "OUTPUT<k>".
func OutputNode(k int) string {
	return fmt.Sprintf("%s%d", OutputPrefix, k)
}

// IsOutputNode returns whether id is an "OUTPUT<k>" marker, and its index.
func IsOutputNode(id string) (k int, ok bool) {
	if !strings.HasPrefix(id, OutputPrefix) || len(id) == len(OutputPrefix) {
		return 0, false
	}
	for _, c := range id[len(OutputPrefix):] {
		if c < '0' || c > '9' {
			return 0, false
		}
		k = k*10 + int(c-'0')
	}
	return k, true
}

// CheckSymmetry verifies that every "BW.x" node has a matching "FW.x" node and vice versa.
func (g *Graph) CheckSymmetry() error {
	for _, id := range g.order {
		var mirror string
		switch {
		case strings.HasPrefix(id, FWPrefix):
			mirror = BWPrefix + id[len(FWPrefix):]
		case strings.HasPrefix(id, BWPrefix):
			mirror = FWPrefix + id[len(BWPrefix):]
		default:
			continue
		}
		if !g.Has(mirror) {
			return errors.Errorf("node %q has no matching %q node", id, mirror)
		}
	}
	return nil
}

// String returns a short description of the graph.
func (g *Graph) String() string {
	return fmt.Sprintf("depgraph.Graph{%d nodes, %d edges, %d outputs}", g.NumNodes(), g.NumEdges(), g.NumOutputs())
}
