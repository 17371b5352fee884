package events

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/gomlx/steptrace/pkg/trace"
	"k8s.io/klog/v2"
)

// ParseError reports an event stream violating the begin/end format.
type ParseError struct {
	Event  RawEvent
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("trace event %q (ph=%s, pid=%s, ts=%d): %s",
		e.Event.Name, e.Event.Phase, e.Event.PID, e.Event.Timestamp(), e.Reason)
}

// Unwrap returns trace.ErrParse.
func (e *ParseError) Unwrap() error { return trace.ErrParse }

// Pair converts begin/end pairs into complete-phase events and returns all events sorted
// by timestamp.
//
// Pairs are matched in FIFO order within the substream of each process id: an end event
// closes the oldest open begin event of its pid. Complete events are kept as they are,
// and events without timestamp are dropped. An end without an open begin is skipped,
// but a begin never closed is a *ParseError.
//
// The complete event takes the name, category and args of the begin event.
func Pair(raw []RawEvent) ([]AnnotatedEvent, error) {
	open := make(map[ProcessID][]int)
	paired := make([]AnnotatedEvent, 0, len(raw))
	for i := range raw {
		ev := &raw[i]
		if ev.TS == nil {
			klog.V(2).Infof("dropping event %q without timestamp", ev.Name)
			continue
		}
		switch {
		case ev.Phase.IsBegin():
			open[ev.PID] = append(open[ev.PID], i)
		case ev.Phase.IsEnd():
			queue := open[ev.PID]
			if len(queue) == 0 {
				klog.V(1).Infof("skipping end event %q (pid=%s, ts=%d) without a begin event", ev.Name, ev.PID, *ev.TS)
				continue
			}
			begin := &raw[queue[0]]
			open[ev.PID] = queue[1:]
			paired = append(paired, complete(begin, *ev.TS-*begin.TS))
		default:
			paired = append(paired, complete(ev, ev.Dur))
		}
	}
	for _, pid := range slices.Sorted(maps.Keys(open)) {
		if queue := open[pid]; len(queue) > 0 {
			return nil, &ParseError{Event: raw[queue[0]], Reason: "begin event has no matching end event"}
		}
	}
	sort.SliceStable(paired, func(i, j int) bool { return paired[i].TS < paired[j].TS })
	return paired, nil
}

func complete(ev *RawEvent, dur int64) AnnotatedEvent {
	args := make(map[string]string, len(ev.Args)+1)
	for k, v := range ev.Args {
		args[k] = v
	}
	return AnnotatedEvent{
		Name:     ev.Name,
		TS:       *ev.TS,
		Dur:      dur,
		Phase:    PhaseComplete,
		PID:      ev.PID,
		TID:      ev.TID,
		Category: ev.Category,
		Args:     args,
	}
}
