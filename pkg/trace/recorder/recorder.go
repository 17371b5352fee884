// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package recorder wires the trace-correlation engine into a running training loop.
//
// A Recorder owns the readiness tracker and the dependency graph of one run. The training
// loop reports every parameter update with Observe; once the tracker finishes, the
// finalization (waiting for the side streams, correlating and writing the trace and graph
// files) runs as a job in a worker pool, so the training loop is never blocked by it.
package recorder

import (
	"sync"

	"github.com/gomlx/steptrace/internal/workerspool"
	"github.com/gomlx/steptrace/pkg/support/xsync"
	"github.com/gomlx/steptrace/pkg/trace"
	"github.com/gomlx/steptrace/pkg/trace/correlate"
	"github.com/gomlx/steptrace/pkg/trace/depgraph"
	"github.com/gomlx/steptrace/pkg/trace/events"
	"github.com/gomlx/steptrace/pkg/trace/readiness"
	"github.com/gomlx/steptrace/pkg/trace/streamsync"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LossDump is the debug dump of an auxiliary loss head, attached to the main graph's
// output number Head.
type LossDump struct {
	Dump string
	Head int
}

// Recorder collects the trace of one training run. It's safe for concurrent use.
type Recorder struct {
	cfg     Config
	runID   uuid.UUID
	compute ComputeSource
	sync    *streamsync.Synchronizer
	pool    *workerspool.Pool

	mu      sync.Mutex
	tracker *readiness.Tracker
	graph   *depgraph.Graph

	// result is triggered when the finalization job finishes.
	result *xsync.LatchWithValue[error]
}

// New creates a Recorder for the given configuration and compute events source.
//
// If tracing is not enabled the Recorder is inert: Observe always returns false, and
// nothing is written.
func New(cfg Config, compute ComputeSource) (*Recorder, error) {
	r := &Recorder{
		cfg:    cfg,
		runID:  uuid.New(),
		result: xsync.NewLatchWithValue[error](),
	}
	if !cfg.Enabled {
		klog.V(1).Infof("recorder: tracing is off")
		r.result.Trigger(nil)
		return r, nil
	}
	if compute == nil {
		return nil, errors.Wrap(trace.ErrConfiguration, "recorder.New: nil ComputeSource")
	}
	r.compute = compute
	r.sync = &streamsync.Synchronizer{Interval: streamsync.DefaultInterval, Timeout: cfg.WaitTimeout}
	r.pool = workerspool.New(cfg.MaxParallelism)
	tracker, err := readiness.New(cfg.StartStep, cfg.EndStep).
		Manifest(cfg.ManifestPath()).
		OnStart(r.startCompute).
		OnFinish(r.submitFinalization).
		Done()
	if err != nil {
		return nil, err
	}
	r.tracker = tracker
	klog.Infof("recorder: tracing run %s from step %d to %d, output %q",
		r.runID, cfg.StartStep, cfg.EndStep, cfg.TracePath())
	return r, nil
}

// Enabled returns whether tracing is on.
func (r *Recorder) Enabled() bool { return r.tracker != nil }

// RunID identifies this run. It's used as the name of the exported graph.
func (r *Recorder) RunID() uuid.UUID { return r.runID }

// Config returns the configuration of the recorder.
func (r *Recorder) Config() Config { return r.cfg }

// SetGraph builds the dependency graph from the main debug dump and splices the loss heads
// into it. It must be called before tracing finishes.
func (r *Recorder) SetGraph(dump string, losses ...LossDump) error {
	if !r.Enabled() {
		return nil
	}
	g, err := depgraph.Build(dump).Done()
	if err != nil {
		return errors.WithMessage(err, "building main dependency graph")
	}
	for i, loss := range losses {
		sub, err := depgraph.Build(loss.Dump).Loss().Done()
		if err != nil {
			return errors.WithMessagef(err, "building loss #%d dependency graph", i)
		}
		if err = g.Splice(sub, loss.Head); err != nil {
			return err
		}
	}
	if err = g.CheckSymmetry(); err != nil {
		klog.Warningf("recorder: dependency graph is not symmetric: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graph = g
	klog.V(1).Infof("recorder: %s", g)
	return nil
}

// Graph returns the dependency graph, or nil if not set.
func (r *Recorder) Graph() *depgraph.Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.graph
}

// Observe reports an update of the tracked quantity index: see readiness.Tracker.Observe.
// It returns true when the caller should emit the quantity's communication trace, and
// confirm with MarkEmitted.
func (r *Recorder) Observe(index int, advance bool) (bool, error) {
	if !r.Enabled() {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Observe(index, advance)
}

// MarkEmitted confirms the communication trace of quantity index was emitted.
func (r *Recorder) MarkEmitted(index int) {
	if !r.Enabled() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracker.MarkEmitted(index)
}

// Finished returns whether all tracked quantities were emitted and the finalization started.
func (r *Recorder) Finished() bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracker.Finished()
}

// Wait blocks until the finalization job finishes and returns its error. It returns
// immediately if tracing is off.
func (r *Recorder) Wait() error {
	return r.result.Wait()
}

// Done returns a channel closed when the finalization job finishes.
func (r *Recorder) Done() <-chan struct{} {
	return r.result.WaitChan()
}

// startCompute is called by the tracker, with r.mu held.
func (r *Recorder) startCompute() {
	klog.V(1).Infof("recorder: starting compute profiler")
	if err := r.compute.Start(); err != nil {
		klog.Errorf("recorder: failed to start compute profiler: %+v", err)
	}
}

// submitFinalization is called by the tracker, with r.mu held. It only enqueues the job.
func (r *Recorder) submitFinalization() {
	graph, names := r.graph, r.tracker.Names()
	job := r.pool.Submit(func() error { return r.finalize(graph, names) })
	go func() { r.result.Trigger(job.Wait()) }()
}

// finalize stops the compute profiler, merges all streams and writes the trace and graph
// files. Nothing is written unless the merge succeeds.
func (r *Recorder) finalize(graph *depgraph.Graph, names []string) error {
	if err := r.compute.Stop(); err != nil {
		return errors.WithMessage(err, "stopping compute profiler")
	}
	if graph == nil {
		return errors.Wrap(trace.ErrConfiguration, "tracing finished but no dependency graph was set")
	}
	raw, err := r.compute.Events()
	if err != nil {
		return errors.WithMessage(err, "reading compute events")
	}
	c, err := correlate.New(graph).Manifest(names).Synchronizer(r.sync).Done()
	if err != nil {
		return err
	}
	tf, err := c.Correlate(raw, r.cfg.CommPath(), r.cfg.IOPath())
	if err != nil {
		return err
	}
	tracePath := r.cfg.TracePath()
	if err = events.WriteTraceFile(tracePath, tf); err != nil {
		return err
	}
	if err = graph.WriteDOT(r.cfg.GraphPath(), "steptrace_"+r.runID.String()); err != nil {
		return err
	}
	klog.Infof("Stop tracing, output trace: %s", tracePath)
	return nil
}

// Close waits for pending finalization jobs.
func (r *Recorder) Close() {
	if r.pool != nil {
		r.pool.Wait()
	}
}
