package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gomlx/steptrace/pkg/trace/correlate"
	"github.com/gomlx/steptrace/pkg/trace/depgraph"
	"github.com/gomlx/steptrace/pkg/trace/events"
	"github.com/gomlx/steptrace/pkg/trace/readiness"
	"github.com/gomlx/steptrace/pkg/trace/streamsync"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Output file names, under Job.Output.
const (
	TraceFileName = "trace.json"
	GraphFileName = "dag.dot"
)

// mergeResult holds what the reports need.
type mergeResult struct {
	job   *Job
	graph *depgraph.Graph
	trace *events.TraceFile
}

// merge builds the dependency graph, correlates the traces and writes the outputs.
func merge(job *Job) (*mergeResult, error) {
	graph, err := buildGraph(job)
	if err != nil {
		return nil, err
	}
	raw, err := loadWithProgress(job.Compute)
	if err != nil {
		return nil, err
	}
	var names []string
	if job.Manifest != "" {
		if names, err = readiness.LoadManifest(job.Manifest); err != nil {
			return nil, err
		}
	}
	timeout, err := job.Timeout(defaultTimeout)
	if err != nil {
		return nil, err
	}
	builder := correlate.New(graph).
		Manifest(names).
		Synchronizer(&streamsync.Synchronizer{Interval: streamsync.DefaultInterval, Timeout: timeout})
	if len(job.IgnoreOps) > 0 {
		builder = builder.IgnoreList(job.IgnoreOps...)
	}
	c, err := builder.Done()
	if err != nil {
		return nil, err
	}
	tf, err := c.Correlate(raw, job.Comm, job.IO)
	if err != nil {
		return nil, err
	}
	if job.Output != "" {
		tracePath := filepath.Join(job.Output, TraceFileName)
		if err = events.WriteTraceFile(tracePath, tf); err != nil {
			return nil, err
		}
		if err = graph.WriteDOT(filepath.Join(job.Output, GraphFileName), "steptrace_"+uuid.NewString()); err != nil {
			return nil, err
		}
		klog.Infof("Merged trace written to %s", tracePath)
	}
	return &mergeResult{job: job, graph: graph, trace: tf}, nil
}

func buildGraph(job *Job) (*depgraph.Graph, error) {
	dump, err := os.ReadFile(job.Dump)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read debug dump %q", job.Dump)
	}
	builder := depgraph.Build(string(dump))
	if job.DataMarker != "" {
		builder = builder.DataMarker(job.DataMarker)
	}
	graph, err := builder.Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing %q", job.Dump)
	}
	for _, loss := range job.Losses {
		lossDump, err := os.ReadFile(loss.Dump)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read loss %q debug dump %q", loss.Name, loss.Dump)
		}
		lossBuilder := depgraph.Build(string(lossDump)).Loss()
		if job.DataMarker != "" {
			lossBuilder = lossBuilder.DataMarker(job.DataMarker)
		}
		sub, err := lossBuilder.Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "parsing %q", loss.Dump)
		}
		if err = graph.Splice(sub, loss.Head); err != nil {
			return nil, errors.WithMessagef(err, "loss %q", loss.Name)
		}
	}
	return graph, nil
}

// loadWithProgress reads a raw trace file, showing a progress bar of the bytes read:
// profiler dumps of long runs get large.
func loadWithProgress(filePath string) ([]events.RawEvent, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open trace %q", filePath)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat trace %q", filePath)
	}
	bar := progressbar.DefaultBytes(info.Size(), "reading "+filepath.Base(filePath))
	defer func() { _ = bar.Close() }()
	raw, err := events.ReadRaw(io.TeeReader(f, bar))
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	_ = bar.Finish()
	return raw, nil
}
