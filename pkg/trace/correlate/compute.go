package correlate

import (
	"fmt"
	"strings"

	"github.com/gomlx/steptrace/pkg/trace/depgraph"
	"github.com/gomlx/steptrace/pkg/trace/events"
	"k8s.io/klog/v2"
)

// computeEvent is a paired compute event with its normalized graph id.
type computeEvent struct {
	events.AnnotatedEvent
	id, base string
	inGraph  bool
}

// Compute pairs, normalizes, filters and annotates the raw compute events, and synthesizes
// the STEP events after the last backward operator of each iteration.
//
// Events whose operator isn't in the graph are dropped, as well as events from any process
// other than the one of the first graph event.
func (c *Correlator) Compute(raw []events.RawEvent) ([]events.AnnotatedEvent, error) {
	paired, err := events.Pair(raw)
	if err != nil {
		return nil, err
	}
	evs := make([]computeEvent, len(paired))
	var pid events.ProcessID
	pidFound := false
	for i, ev := range paired {
		id, base, _ := NormalizeName(ev.Name)
		evs[i] = computeEvent{AnnotatedEvent: ev, id: id, base: base, inGraph: c.graph.Has(id)}
		if evs[i].inGraph && !pidFound {
			pid, pidFound = ev.PID, true
		}
	}
	if !pidFound {
		klog.Warningf("correlate: none of the %d compute events matches the dependency graph", len(paired))
		return []events.AnnotatedEvent{}, nil
	}

	// Retained graph events, in timestamp order.
	var ids []string
	var numSkippedPID, numSkippedOps int
	for _, ev := range evs {
		switch {
		case !ev.inGraph:
			numSkippedOps++
			klog.V(2).Infof("correlate: skipping %q, not in the dependency graph", ev.Name)
		case ev.PID != pid:
			numSkippedPID++
			klog.V(2).Infof("correlate: skipping %q from pid %s, canonical pid is %s", ev.Name, ev.PID, pid)
		default:
			ids = append(ids, ev.id)
		}
	}
	klog.V(1).Infof("correlate: %d compute events kept, %d not in graph, %d from other processes",
		len(ids), numSkippedOps, numSkippedPID)

	lastBW := FindLastBackward(ids)
	if lastBW == "" {
		klog.Warningf("correlate: no forward -> backward -> forward cycle found, no %s events synthesized", depgraph.StepNode)
	}
	out := make([]events.AnnotatedEvent, 0, len(ids)+len(ids)/4)
	for i, ev := range evs {
		if !ev.inGraph || ev.PID != pid {
			continue
		}
		out = append(out, c.annotate(ev))
		if ev.id == lastBW {
			out = append(out, c.synthesizeStep(evs[i].AnnotatedEvent, evs[i+1:], pid))
		}
	}
	return out, nil
}

// annotate renames the event to its graph id and sets its args to the id plus one
// "input<i>" per incoming edge.
func (c *Correlator) annotate(ev computeEvent) events.AnnotatedEvent {
	annotated := ev.AnnotatedEvent
	annotated.Name = ev.id
	preds := c.graph.Predecessors(ev.id)
	annotated.Args = make(map[string]string, len(preds)+1)
	annotated.Args["name"] = ev.id
	for i, p := range preds {
		annotated.Args[fmt.Sprintf("input%d", i)] = p
	}
	return annotated
}

// synthesizeStep builds the STEP event following the last backward event lastBW: it spans
// the contiguous non-graph operators of the canonical process that follow it, skipping the
// ignored ones. If there are none, the STEP event has zero duration at the end of lastBW.
func (c *Correlator) synthesizeStep(lastBW events.AnnotatedEvent, following []computeEvent, pid events.ProcessID) events.AnnotatedEvent {
	start, end := lastBW.End(), lastBW.End()
	found := false
	for _, ev := range following {
		if ev.PID != pid {
			continue
		}
		if ev.inGraph {
			break
		}
		if c.isIgnored(ev.Name, ev.base) {
			continue
		}
		if !found {
			start, end, found = ev.TS, ev.End(), true
			continue
		}
		end = max(end, ev.End())
	}
	return events.AnnotatedEvent{
		Name:  depgraph.StepNode,
		TS:    start,
		Dur:   end - start,
		Phase: events.PhaseComplete,
		PID:   pid,
		Args:  map[string]string{"name": depgraph.StepNode},
	}
}

type cycleState int

const (
	stateInit cycleState = iota
	stateForward
	stateBackward
)

// FindLastBackward walks the ordered graph node ids of the compute events through the
// forward -> backward -> forward cycle of the training iterations, and returns the last
// backward node before the forward pass starts again.
//
// It returns "" if no full cycle was observed, e.g. for inference-only traces.
func FindLastBackward(ids []string) string {
	state := stateInit
	var lastSeen, lastBW string
	for _, id := range ids {
		switch {
		case strings.HasPrefix(id, depgraph.FWPrefix):
			if state == stateBackward {
				lastBW = lastSeen
			}
			state = stateForward
		case strings.HasPrefix(id, depgraph.BWPrefix):
			if state != stateInit {
				state = stateBackward
				lastSeen = id
			}
		}
	}
	return lastBW
}
