package correlate

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/steptrace/pkg/trace"
	"github.com/gomlx/steptrace/pkg/trace/depgraph"
	"github.com/gomlx/steptrace/pkg/trace/events"
	"github.com/gomlx/steptrace/pkg/trace/streamsync"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dump = `Symbol Outputs:
	output[0]=B(0)
Variable:data
Variable:A_weight
--------------------
Op:Dense, Name=A
Inputs:
	arg[0]=data(0) version=0
	arg[1]=A_weight(0) version=0
--------------------
Op:Relu, Name=B
Inputs:
	arg[0]=A(0) version=0
`

func buildGraph(t *testing.T) *depgraph.Graph {
	g, err := depgraph.Build(dump).Done()
	require.NoError(t, err)
	return g
}

func fastSync() *streamsync.Synchronizer {
	return &streamsync.Synchronizer{Interval: time.Millisecond, Timeout: 50 * time.Millisecond}
}

// span returns the begin/end pair of an operator.
func span(name string, pid events.ProcessID, begin, end int64) []events.RawEvent {
	return []events.RawEvent{
		{Name: name, TS: &begin, Phase: events.PhaseBegin, PID: pid, Category: "operator"},
		{Name: name, TS: &end, Phase: events.PhaseEnd, PID: pid, Category: "operator"},
	}
}

func concat(spans ...[]events.RawEvent) []events.RawEvent {
	var all []events.RawEvent
	for _, s := range spans {
		all = append(all, s...)
	}
	return all
}

func writeJSON(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNormalizeName(t *testing.T) {
	for _, tc := range []struct {
		raw, id, base string
		backward      bool
	}{
		{"A", "FW.A", "A", false},
		{"fc1_fwd", "FW.fc1", "fc1", false},
		{"[name=fc1_fwd;op=FullyConnected]", "FW.fc1", "fc1", false},
		{"name=fc1_backward;", "BW.fc1", "fc1", true},
		{"relu1_backward", "BW.relu1", "relu1", true},
		{"[name=dense0_fwd_backward;]", "BW.dense0", "dense0", true},
		{"dense1_fwd_backward", "BW.dense1", "dense1", true},
	} {
		id, base, backward := NormalizeName(tc.raw)
		assert.Equalf(t, tc.id, id, "NormalizeName(%q)", tc.raw)
		assert.Equal(t, tc.base, base)
		assert.Equal(t, tc.backward, backward)
	}
}

// gluonDump names its operators with the forward suffix, as gluon blocks do.
const gluonDump = `Symbol Outputs:
	output[0]=dense1_fwd(0)
Variable:data
--------------------
Op:FullyConnected, Name=dense0_fwd
Inputs:
	arg[0]=data(0) version=0
--------------------
Op:FullyConnected, Name=dense1_fwd
Inputs:
	arg[0]=dense0_fwd(0) version=0
`

func TestCompute_ForwardSuffix(t *testing.T) {
	g, err := depgraph.Build(gluonDump).Done()
	require.NoError(t, err)
	require.True(t, g.Has("BW.dense0"))
	c, err := New(g).Done()
	require.NoError(t, err)
	out, err := c.Compute(concat(
		span("dense0_fwd", "0", 0, 10),
		span("dense1_fwd", "0", 10, 20),
		span("dense1_fwd_backward", "0", 20, 30),
		span("dense0_fwd_backward", "0", 30, 40),
		span("sgd_update", "0", 41, 50),
		span("dense0_fwd", "0", 60, 70),
	))
	require.NoError(t, err)
	var names []string
	for _, ev := range out {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"FW.dense0", "FW.dense1", "BW.dense1", "BW.dense0", "STEP", "FW.dense0"}, names)
	step := out[4]
	assert.Equal(t, int64(41), step.TS)
	assert.Equal(t, int64(9), step.Dur)
}

func TestFindLastBackward(t *testing.T) {
	assert.Equal(t, "BW.A", FindLastBackward([]string{"FW.A", "FW.B", "BW.B", "BW.A", "FW.A"}))
	// Trace starting in the middle of a backward pass.
	assert.Equal(t, "BW.b", FindLastBackward([]string{"BW.x", "FW.a", "BW.b", "FW.a", "BW.b"}))
	// No backward pass, or the cycle never closes.
	assert.Equal(t, "", FindLastBackward([]string{"FW.a", "FW.b", "FW.a"}))
	assert.Equal(t, "", FindLastBackward([]string{"FW.a", "BW.a"}))
	assert.Equal(t, "", FindLastBackward(nil))
}

func TestCompute_SingleOperator(t *testing.T) {
	c, err := New(buildGraph(t)).Done()
	require.NoError(t, err)
	out, err := c.Compute(span("A", "0", 100, 140))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "FW.A", out[0].Name)
	assert.Equal(t, int64(100), out[0].TS)
	assert.Equal(t, int64(40), out[0].Dur)
	assert.Equal(t, map[string]string{"name": "FW.A", "input0": depgraph.IONode, "input1": depgraph.StepNode}, out[0].Args)
}

func TestCompute_RoundTrip(t *testing.T) {
	g := buildGraph(t)
	c, err := New(g).Done()
	require.NoError(t, err)
	ops := []string{"A", "B", "B_backward", "A_backward"}
	var raw []events.RawEvent
	for i, op := range ops {
		begin := int64(1000 + 100*i)
		raw = append(raw, span(op, "0", begin, begin+int64(10+i))...)
	}
	out, err := c.Compute(raw)
	require.NoError(t, err)
	require.Len(t, out, len(ops))
	for i, ev := range out {
		id, _, _ := NormalizeName(ops[i])
		assert.Equal(t, id, ev.Name)
		assert.Equal(t, int64(10+i), ev.Dur)
		preds := g.Predecessors(id)
		assert.Len(t, ev.Args, len(preds)+1)
		for j, p := range preds {
			assert.Equal(t, p, ev.Args[fmt.Sprintf("input%d", j)])
		}
	}
}

// twoIterations is the compute trace of two training iterations, with a duplicate process
// and bookkeeping operators between iterations.
func twoIterations() []events.RawEvent {
	return concat(
		span("A", "0", 0, 10),
		span("A", "1", 1, 9),
		span("[name=_plus0;]", "0", 10, 11),
		span("B", "0", 11, 20),
		span("B_backward", "0", 20, 30),
		span("A_backward", "0", 30, 45),
		span("Cast", "0", 46, 47),
		span("sgd_update", "0", 48, 60),
		span("sgd_mom_update", "1", 49, 70),
		span("broadcast_add", "0", 61, 66),
		span("_random_uniform", "0", 62, 65),
		span("A", "0", 70, 80),
		span("B", "0", 80, 90),
		span("B_backward", "0", 90, 95),
		span("A_backward", "0", 95, 100),
		span("DeleteVariable", "0", 101, 110),
	)
}

func TestCompute_StepSynthesis(t *testing.T) {
	c, err := New(buildGraph(t)).Done()
	require.NoError(t, err)
	out, err := c.Compute(twoIterations())
	require.NoError(t, err)

	var names []string
	for _, ev := range out {
		names = append(names, ev.Name)
		assert.Equal(t, events.ProcessID("0"), ev.PID)
		assert.Equal(t, events.PhaseComplete, ev.Phase)
	}
	assert.Equal(t, []string{
		"FW.A", "FW.B", "BW.B", "BW.A", "STEP",
		"FW.A", "FW.B", "BW.B", "BW.A", "STEP",
	}, names)

	// First STEP spans sgd_update and _random_uniform, but not the ignored Cast and broadcast_add,
	// nor the operator of the other process.
	step := out[4]
	assert.Equal(t, int64(48), step.TS)
	assert.Equal(t, int64(17), step.Dur)
	assert.Equal(t, map[string]string{"name": "STEP"}, step.Args)

	// Last STEP: only ignored operators follow, so it has zero duration at the end of BW.A.
	step = out[9]
	assert.Equal(t, int64(100), step.TS)
	assert.Equal(t, int64(0), step.Dur)
}

func TestCompute_NoBackward(t *testing.T) {
	c, err := New(buildGraph(t)).Done()
	require.NoError(t, err)
	out, err := c.Compute(concat(span("A", "0", 0, 10), span("B", "0", 10, 20), span("A", "0", 30, 40)))
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, ev := range out {
		assert.NotEqual(t, depgraph.StepNode, ev.Name)
	}

	// No graph events at all.
	out, err = c.Compute(span("sgd_update", "0", 0, 10))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCompute_UnmatchedBegin(t *testing.T) {
	c, err := New(buildGraph(t)).Done()
	require.NoError(t, err)
	begin := int64(5)
	_, err = c.Compute([]events.RawEvent{{Name: "A", TS: &begin, Phase: events.PhaseBegin, PID: "0"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, trace.ErrParse))
}

func TestCorrelate(t *testing.T) {
	dir := t.TempDir()
	commPath := writeJSON(t, dir, "comm.json", `{"traceEvents": [
		{"name": "push_pull", "ts": 50, "dur": 5, "ph": "X", "pid": "byteps", "args": {"name": "gradient_0"}},
		{"name": "barrier", "ts": 60, "dur": 1, "ph": "X", "pid": "byteps"}
	]}`)
	ioPath := writeJSON(t, dir, "io.json", `{"traceEvents": [
		{"name": "read_batch", "ts": 5, "dur": 3, "ph": "X", "pid": "io", "args": {"batch": 1}}
	]}`)
	c, err := New(buildGraph(t)).Manifest([]string{"A_weight"}).Synchronizer(fastSync()).Done()
	require.NoError(t, err)
	tf, err := c.Correlate(twoIterations(), commPath, ioPath)
	require.NoError(t, err)
	require.Len(t, tf.TraceEvents, 13)

	comm := tf.TraceEvents[10]
	assert.Equal(t, "Comm.A_weight", comm.Name)
	assert.Equal(t, events.ProcessID("Comm.A_weight"), comm.PID)
	assert.Equal(t, int64(50), comm.TS)
	assert.Equal(t, int64(5), comm.Dur)
	assert.Equal(t, map[string]string{"name": "Comm.A_weight", "input0": "BW.A"}, comm.Args)
	assert.Equal(t, "barrier", tf.TraceEvents[11].Name)

	io := tf.TraceEvents[12]
	assert.Equal(t, "read_batch", io.Name)
	assert.Equal(t, events.ProcessID("io"), io.PID)
	assert.Equal(t, "1", io.Args["batch"])
}

func TestCorrelate_Timeout(t *testing.T) {
	c, err := New(buildGraph(t)).Synchronizer(fastSync()).Done()
	require.NoError(t, err)
	_, err = c.Correlate(twoIterations(), filepath.Join(t.TempDir(), "comm.json"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, trace.ErrTimeout))
	assert.Contains(t, err.Error(), CommStreamLabel)
}

func TestComm_Errors(t *testing.T) {
	g := depgraph.NewGraph()
	g.AddEdge("BW.x", "Comm.w3")
	g.AddEdge("BW.y", "Comm.w3")
	g.AddEdge("BW.z", "Comm.w1")
	c, err := New(g).Manifest([]string{"w0", "w1", "w2", "w3"}).Done()
	require.NoError(t, err)
	ts := int64(10)
	commEvent := func(index int) []events.RawEvent {
		return []events.RawEvent{{Name: "push_pull", TS: &ts, Dur: 2, Phase: events.PhaseComplete, PID: "0",
			Args: events.RawArgs{"name": GradientTensorName(index)}}}
	}

	out, err := c.Comm(commEvent(1))
	require.NoError(t, err)
	assert.Equal(t, "BW.z", out[0].Args["input0"])

	// Two producers for the same communicated quantity.
	_, err = c.Comm(commEvent(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, trace.ErrParse))
	assert.Contains(t, err.Error(), `"Comm.w3" has 2 predecessors`)

	// Not in the graph.
	_, err = c.Comm(commEvent(0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, trace.ErrParse))

	// Not in the manifest.
	_, err = c.Comm(commEvent(7))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the manifest")

	// Zero timestamp.
	zero := int64(0)
	_, err = c.Comm([]events.RawEvent{{Name: "push_pull", TS: &zero, Phase: events.PhaseComplete}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, trace.ErrParse))
}

func TestNew_NilGraph(t *testing.T) {
	_, err := New(nil).Done()
	require.Error(t, err)
	assert.True(t, errors.Is(err, trace.ErrConfiguration))
}

func TestIgnoreList(t *testing.T) {
	c, err := New(buildGraph(t)).IgnoreList("sgd_*").Done()
	require.NoError(t, err)
	out, err := c.Compute(twoIterations())
	require.NoError(t, err)
	// sgd_update is ignored now, so the first STEP spans Cast, broadcast_add and _random_uniform.
	assert.Equal(t, "STEP", out[4].Name)
	assert.Equal(t, int64(46), out[4].TS)
	assert.Equal(t, int64(20), out[4].Dur)
}
