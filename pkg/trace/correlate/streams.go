package correlate

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/gomlx/steptrace/pkg/trace/depgraph"
	"github.com/gomlx/steptrace/pkg/trace/events"
)

// GradientTensorName returns the name under which the gradient of quantity index is
// communicated.
func GradientTensorName(index int) string {
	return fmt.Sprintf("gradient_%d", index)
}

var reGradientName = regexp.MustCompile(`^gradient_(\d+)$`)

// gradientIndex returns the tracked quantity index referenced by the event's "name" arg
// or, failing that, by its name.
func gradientIndex(ev *events.AnnotatedEvent) (int, bool) {
	for _, name := range [2]string{ev.Args["name"], ev.Name} {
		if m := reGradientName.FindStringSubmatch(name); m != nil {
			idx, err := strconv.Atoi(m[1])
			return idx, err == nil
		}
	}
	return 0, false
}

// Comm converts the communication events. Events referencing a tracked quantity are
// renamed "Comm.<name>", moved to a process of their own, and get as only input the unique
// predecessor of their graph node. Other events are kept verbatim.
//
// Every event must have a non-zero timestamp.
func (c *Correlator) Comm(raw []events.RawEvent) ([]events.AnnotatedEvent, error) {
	for i := range raw {
		if raw[i].Timestamp() == 0 {
			return nil, &ParseError{Stream: CommStreamLabel, Event: raw[i].Name, Reason: "timestamp must not be 0"}
		}
	}
	paired, err := events.Pair(raw)
	if err != nil {
		return nil, err
	}
	out := make([]events.AnnotatedEvent, 0, len(paired))
	for _, ev := range paired {
		idx, ok := gradientIndex(&ev)
		if !ok {
			out = append(out, ev)
			continue
		}
		if idx >= len(c.manifest) {
			return nil, &ParseError{Stream: CommStreamLabel, Event: ev.Name, Reason: fmt.Sprintf(
				"tracked quantity %d not in the manifest (%d names)", idx, len(c.manifest))}
		}
		commID := depgraph.CommPrefix + c.manifest[idx]
		preds := c.graph.Predecessors(commID)
		if len(preds) != 1 {
			return nil, &ParseError{Stream: CommStreamLabel, Event: ev.Name, Reason: fmt.Sprintf(
				"node %q has %d predecessors in the dependency graph, want exactly 1", commID, len(preds))}
		}
		ev.Name = commID
		ev.PID = events.ProcessID(commID)
		ev.Args = map[string]string{"name": commID, "input0": preds[0]}
		out = append(out, ev)
	}
	return out, nil
}

// IO converts the I/O events verbatim.
func IO(raw []events.RawEvent) []events.AnnotatedEvent {
	out := make([]events.AnnotatedEvent, 0, len(raw))
	for _, ev := range raw {
		args := make(map[string]string, len(ev.Args))
		for k, v := range ev.Args {
			args[k] = v
		}
		out = append(out, events.AnnotatedEvent{
			Name:     ev.Name,
			TS:       ev.Timestamp(),
			Dur:      ev.Dur,
			Phase:    ev.Phase,
			PID:      ev.PID,
			TID:      ev.TID,
			Category: ev.Category,
			Args:     args,
		})
	}
	return out
}
