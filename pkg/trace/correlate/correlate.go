// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package correlate merges the compute, communication and I/O trace streams of a training
// run into one TraceFile, annotating each event with its dependencies in the operator graph.
package correlate

import (
	"fmt"
	"strings"

	"github.com/gomlx/steptrace/pkg/trace"
	"github.com/gomlx/steptrace/pkg/trace/depgraph"
	"github.com/gomlx/steptrace/pkg/trace/events"
	"github.com/gomlx/steptrace/pkg/trace/streamsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Labels of the side streams, used in timeout errors.
const (
	CommStreamLabel = "communication trace"
	IOStreamLabel   = "I/O trace"
)

// DefaultIgnoreList holds bookkeeping operators that don't count towards the STEP gap.
// Entries ending with "*" match by prefix.
var DefaultIgnoreList = []string{
	"DeleteVariable",
	"Reshape",
	"Cast",
	"_copy",
	"_copyto",
	"_zeros",
	"_ones",
	"broadcast_*",
}

// ParseError is returned for stream events that can't be merged.
type ParseError struct {
	Stream string
	Event  string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s event %q: %s", e.Stream, e.Event, e.Reason)
}

// Unwrap returns trace.ErrParse.
func (e *ParseError) Unwrap() error { return trace.ErrParse }

// Builder configures a Correlator. Create it with New and finish with Done.
type Builder struct {
	graph    *depgraph.Graph
	manifest []string
	sync     *streamsync.Synchronizer
	ignore   []string
}

// New starts the configuration of a Correlator over the given dependency graph.
func New(graph *depgraph.Graph) *Builder {
	return &Builder{graph: graph, ignore: DefaultIgnoreList}
}

// Manifest sets the names of the tracked quantities, indexed by quantity index. It's used
// to resolve communication events.
func (b *Builder) Manifest(names []string) *Builder {
	b.manifest = names
	return b
}

// Synchronizer sets how to wait for the side streams. Default is streamsync.New().
func (b *Builder) Synchronizer(s *streamsync.Synchronizer) *Builder {
	b.sync = s
	return b
}

// IgnoreList replaces DefaultIgnoreList.
func (b *Builder) IgnoreList(ops ...string) *Builder {
	b.ignore = ops
	return b
}

// Done returns the configured Correlator.
func (b *Builder) Done() (*Correlator, error) {
	if b.graph == nil {
		return nil, errors.Wrap(trace.ErrConfiguration, "correlate.New: nil dependency graph")
	}
	c := &Correlator{
		graph:    b.graph,
		manifest: b.manifest,
		sync:     b.sync,
	}
	if c.sync == nil {
		c.sync = streamsync.New()
	}
	for _, op := range b.ignore {
		if prefix, found := strings.CutSuffix(op, "*"); found {
			c.ignorePrefixes = append(c.ignorePrefixes, prefix)
		} else {
			if c.ignoreNames == nil {
				c.ignoreNames = make(map[string]bool)
			}
			c.ignoreNames[op] = true
		}
	}
	return c, nil
}

// Correlator merges trace streams for one dependency graph. It holds no per-run state:
// it can be reused and called concurrently.
type Correlator struct {
	graph          *depgraph.Graph
	manifest       []string
	sync           *streamsync.Synchronizer
	ignoreNames    map[string]bool
	ignorePrefixes []string
}

// Correlate merges the raw compute events with the communication and I/O streams stored
// in commPath and ioPath, waiting for those files to be written.
//
// An empty path means the stream isn't produced, and it's not waited for. The events are
// ordered compute first, then communication and then I/O.
func (c *Correlator) Correlate(raw []events.RawEvent, commPath, ioPath string) (*events.TraceFile, error) {
	compute, err := c.Compute(raw)
	if err != nil {
		return nil, err
	}
	var comm, ioEvents []events.AnnotatedEvent
	if commPath != "" {
		if err = c.sync.WaitForFile(commPath, CommStreamLabel); err != nil {
			return nil, err
		}
		rawComm, err := events.LoadRawFile(commPath)
		if err != nil {
			return nil, err
		}
		if comm, err = c.Comm(rawComm); err != nil {
			return nil, err
		}
	}
	if ioPath != "" {
		if err = c.sync.WaitForFile(ioPath, IOStreamLabel); err != nil {
			return nil, err
		}
		rawIO, err := events.LoadRawFile(ioPath)
		if err != nil {
			return nil, err
		}
		ioEvents = IO(rawIO)
	}
	tf := &events.TraceFile{TraceEvents: make([]events.AnnotatedEvent, 0, len(compute)+len(comm)+len(ioEvents))}
	tf.TraceEvents = append(tf.TraceEvents, compute...)
	tf.TraceEvents = append(tf.TraceEvents, comm...)
	tf.TraceEvents = append(tf.TraceEvents, ioEvents...)
	klog.V(1).Infof("correlate: merged %d compute, %d communication and %d I/O events",
		len(compute), len(comm), len(ioEvents))
	return tf, nil
}

// NormalizeName maps a compute event name to its dependency graph node id.
//
// If the name embeds a "name=<op>;" attribute, <op> is used. Backward operators
// ("<op>_backward...") map to "BW.<op>", everything else to "FW.<op>". The forward
// suffix is stripped in both cases, as the graph builder does. base is the operator name without prefix or suffix.
func NormalizeName(raw string) (id, base string, backward bool) {
	name := raw
	if _, after, found := strings.Cut(raw, "name="); found {
		name, _, _ = strings.Cut(after, ";")
	}
	if before, _, found := strings.Cut(name, depgraph.BackwardSuffix); found {
		base = strings.TrimSuffix(before, depgraph.ForwardSuffix)
		return depgraph.BWPrefix + base, base, true
	}
	base = strings.TrimSuffix(name, depgraph.ForwardSuffix)
	return depgraph.FWPrefix + base, base, false
}

// isIgnored returns whether the operator is in the ignore list, checking both its raw
// and base names.
func (c *Correlator) isIgnored(rawName, base string) bool {
	for _, name := range [2]string{rawName, base} {
		if c.ignoreNames[name] {
			return true
		}
		for _, prefix := range c.ignorePrefixes {
			if strings.HasPrefix(name, prefix) {
				return true
			}
		}
	}
	return false
}
