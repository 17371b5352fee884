package depgraph

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/steptrace/pkg/trace"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lossDump = `Symbol Outputs:
	output[0]=l2(0)
Variable:data
--------------------
Op:L2Loss, Name=l2
Inputs:
	arg[0]=data(0) version=0
`

func TestGraph_Basics(t *testing.T) {
	g := NewGraph()
	g.AddNode("FW.a", "Dense")
	g.AddEdge("FW.a", "FW.b")
	g.AddEdge("FW.a", "FW.b")
	g.AddEdge("FW.c", "FW.b")
	assert.Equal(t, 3, g.NumNodes())
	assert.Equal(t, 2, g.NumEdges(), "parallel edges collapse")
	assert.Equal(t, []string{"FW.a", "FW.c"}, g.Predecessors("FW.b"))
	assert.Nil(t, g.Successors("FW.missing"))
	assert.Nil(t, g.Node("FW.missing"))

	// Op type is set only once.
	g.AddNode("FW.a", "Relu")
	assert.Equal(t, "Dense", g.Node("FW.a").OpType)

	ids := make([]string, 0, g.NumNodes())
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"FW.a", "FW.b", "FW.c"}, ids)

	err := g.CheckSymmetry()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"BW.a"`)
}

func TestIsOutputNode(t *testing.T) {
	k, ok := IsOutputNode(OutputNode(12))
	assert.True(t, ok)
	assert.Equal(t, 12, k)
	for _, id := range []string{"OUTPUT", "OUTPUTx", "FW.OUTPUT1", StepNode} {
		_, ok = IsOutputNode(id)
		assert.Falsef(t, ok, "IsOutputNode(%q)", id)
	}
}

func TestSplice(t *testing.T) {
	g, err := Build(mlpDump).Done()
	require.NoError(t, err)
	numNodes := g.NumNodes()
	loss, err := Build(lossDump).Loss().Done()
	require.NoError(t, err)

	require.NoError(t, g.Splice(loss, 1))
	// I/O of the loss becomes the model output it consumes.
	assert.True(t, g.HasEdge("FW.fc2", "FW.l2"))
	assert.True(t, g.HasEdge("BW.l2", "BW.fc2"))
	assert.False(t, g.HasEdge(IONode, "FW.l2"))
	// Loss output markers attach to the main output marker.
	assert.True(t, g.HasEdge("FW.l2", "OUTPUT1"))
	assert.True(t, g.HasEdge("OUTPUT1", "BW.l2"))
	assert.False(t, g.Has("OUTPUT2"))

	assert.True(t, g.IsSpliced("FW.l2"))
	assert.Equal(t, "L2Loss", g.Node("FW.l2").OpType)
	assert.False(t, g.IsSpliced("FW.fc2"))
	assert.Equal(t, numNodes+2, g.NumNodes())

	err = g.Splice(loss, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, trace.ErrConfiguration))
}

func TestMarshalDOT(t *testing.T) {
	g, err := Build(twoOpDump).Done()
	require.NoError(t, err)
	loss, err := Build(lossDump).Loss().Done()
	require.NoError(t, err)
	require.NoError(t, g.Splice(loss, 0))

	data, err := g.MarshalDOT("run-1")
	require.NoError(t, err)
	dot := string(data)
	assert.True(t, strings.HasPrefix(dot, `strict digraph "run-1" {`), dot)
	assert.Contains(t, dot, `"FW.A" [op=Dense];`)
	assert.Contains(t, dot, `"I/O" -> "FW.A";`)
	assert.Contains(t, dot, `STEP -> "FW.A";`)
	assert.NotContains(t, dot, "l2", "spliced loss nodes are not exported")

	filePath := filepath.Join(t.TempDir(), "dag.dot")
	require.NoError(t, g.WriteDOT(filePath, "run-1"))
	saved, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, data, saved)
}

func TestIterationOrder(t *testing.T) {
	g, err := Build(twoOpDump).Done()
	require.NoError(t, err)
	order, err := g.IterationOrder()
	require.NoError(t, err)
	assert.NotContains(t, order, StepNode)
	assert.Len(t, order, g.NumNodes()-1)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range order {
		for _, succ := range g.Successors(id) {
			if succ != StepNode {
				assert.Lessf(t, pos[id], pos[succ], "%s must come before %s", id, succ)
			}
		}
	}

	path, total, err := g.CriticalPath(map[string]int64{"FW.A": 10, "FW.B": 5, "BW.B": 7, "BW.A": 20})
	require.NoError(t, err)
	assert.Equal(t, []string{IONode, "FW.A", "FW.B", "OUTPUT0", "BW.B", "BW.A"}, path)
	assert.Equal(t, int64(42), total)
}
