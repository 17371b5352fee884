// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package depgraph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/steptrace/pkg/trace"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// BlockDelimiter separates operator blocks in the debug dump.
	BlockDelimiter = "--------------------"

	// DefaultDataMarker identifies free variables that are data inputs: any variable
	// whose name contains it.
	DefaultDataMarker = "data"

	// ForwardSuffix is stripped from forward operator names.
	ForwardSuffix = "_fwd"

	// BackwardSuffix marks backward operators in compute events.
	BackwardSuffix = "_backward"
)

const variablePrefix = "Variable:"

var (
	reBlockName = regexp.MustCompile(`Name=([^\s,]+)`)
	reBlockOp   = regexp.MustCompile(`Op:([^,\s]+)`)
	reArgument  = regexp.MustCompile(`^arg\[\d+\]=([^(\s]+)`)
	reOutput    = regexp.MustCompile(`^output\[(\d+)\]=([^(\s]+)`)
)

// ParseError is returned for malformed debug dumps. Block is the 0-based index of the
// offending block.
type ParseError struct {
	Block  int
	Line   string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("debug dump block #%d: %s", e.Block, e.Reason)
	}
	return fmt.Sprintf("debug dump block #%d: %s (line %q)", e.Block, e.Reason, e.Line)
}

// Unwrap returns trace.ErrParse, so errors.Is(err, trace.ErrParse) holds.
func (e *ParseError) Unwrap() error { return trace.ErrParse }

// Builder configures the parsing of one debug dump. Create it with Build, and finish
// with Done.
type Builder struct {
	dump       string
	main       bool
	dataMarker string
}

// Build starts the construction of a dependency graph from the given debug dump.
// By default it builds a main graph: see Loss for auxiliary loss sub-graphs.
func Build(dump string) *Builder {
	return &Builder{
		dump:       dump,
		main:       true,
		dataMarker: DefaultDataMarker,
	}
}

// Loss marks the dump as an auxiliary loss sub-graph: STEP boundary edges are not
// created. The result is meant to be given to Graph.Splice.
func (b *Builder) Loss() *Builder {
	b.main = false
	return b
}

// DataMarker sets the substring that identifies data-input free variables.
// Default is DefaultDataMarker.
func (b *Builder) DataMarker(marker string) *Builder {
	b.dataMarker = marker
	return b
}

// Done parses the dump and returns the graph, or a *ParseError.
func (b *Builder) Done() (g *Graph, err error) {
	if b.dataMarker == "" {
		return nil, errors.Wrap(trace.ErrConfiguration, "depgraph.Build: empty data marker")
	}
	g = NewGraph()
	err = exceptions.TryCatch[error](func() { b.parse(g) })
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("depgraph.Build(main=%v): %s", b.main, g)
	return g, nil
}

// parse panics with *ParseError on malformed input.
func (b *Builder) parse(g *Graph) {
	blocks := splitBlocks(b.dump)
	if len(blocks) == 0 {
		return
	}
	b.parseOutputs(g, blocks[0])
	for i := 1; i < len(blocks); i++ {
		variables := parseVariables(blocks[i-1])
		b.parseOperator(g, i, blocks[i], variables)
	}
	// Free variables are declared one block ahead of their operator.
	last := len(blocks) - 1
	if vars := parseVariables(blocks[last]); len(vars) > 0 {
		panic(&ParseError{Block: last, Reason: fmt.Sprintf(
			"declares %d free variable(s) but no operator block follows", len(vars))})
	}
}

// splitBlocks splits the dump on the delimiter lines. Each block is returned as its
// trimmed lines.
func splitBlocks(dump string) [][]string {
	dump = strings.ReplaceAll(dump, "\r\n", "\n")
	if strings.TrimSpace(dump) == "" {
		return nil
	}
	var blocks [][]string
	var current []string
	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimSpace(line)
		if line == BlockDelimiter {
			blocks = append(blocks, current)
			current = nil
			continue
		}
		if line != "" {
			current = append(current, line)
		}
	}
	return append(blocks, current)
}

func parseVariables(block []string) []string {
	var variables []string
	for _, line := range block {
		if name, found := strings.CutPrefix(line, variablePrefix); found {
			variables = append(variables, stripForward(strings.TrimSpace(name)))
		}
	}
	return variables
}

func stripForward(name string) string {
	return strings.TrimSuffix(name, ForwardSuffix)
}

// parseOutputs links FW.<out> -> OUTPUT<k> -> BW.<out>, for each "output[k]=<out>(...)"
// line of the first block, in declaration order.
func (b *Builder) parseOutputs(g *Graph, block []string) {
	for _, line := range block {
		m := reOutput.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := stripForward(m[2])
		marker := OutputNode(len(g.outputs))
		g.AddEdge(FWPrefix+name, marker)
		g.AddEdge(marker, BWPrefix+name)
		g.outputs = append(g.outputs, name)
	}
}

func (b *Builder) parseOperator(g *Graph, blockIdx int, block []string, variables []string) {
	if len(block) == 0 {
		return
	}
	m := reBlockName.FindStringSubmatch(block[0])
	if m == nil {
		klog.V(2).Infof("depgraph: skipping block #%d without a name: %q", blockIdx, block[0])
		return
	}
	name := stripForward(m[1])
	var opType string
	if op := reBlockOp.FindStringSubmatch(block[0]); op != nil {
		opType = op[1]
	}
	fw, bw := FWPrefix+name, BWPrefix+name
	g.AddNode(fw, opType)
	g.AddNode(bw, opType)

	isVariable := make(map[string]bool, len(variables))
	for _, v := range variables {
		isVariable[v] = true
	}
	for _, line := range block[1:] {
		if !strings.HasPrefix(line, "arg[") {
			continue
		}
		am := reArgument.FindStringSubmatch(line)
		if am == nil {
			panic(&ParseError{Block: blockIdx, Line: line, Reason: "malformed argument line"})
		}
		arg := stripForward(am[1])
		if isVariable[arg] {
			continue
		}
		g.AddEdge(FWPrefix+arg, fw)
		g.AddEdge(bw, BWPrefix+arg)
	}

	for _, v := range variables {
		if strings.Contains(v, b.dataMarker) {
			g.AddEdge(IONode, fw)
			if b.main {
				g.AddEdge(bw, StepNode)
				g.AddEdge(StepNode, fw)
			}
			continue
		}
		comm := CommPrefix + v
		g.AddEdge(bw, comm)
		g.AddEdge(comm, StepNode)
	}
}
