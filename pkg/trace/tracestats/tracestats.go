// Package tracestats summarizes a merged trace per event category.
package tracestats

import (
	"slices"
	"strings"

	"github.com/gomlx/steptrace/pkg/trace/depgraph"
	"github.com/gomlx/steptrace/pkg/trace/events"
	"gonum.org/v1/gonum/stat"
)

// Category of an annotated event, derived from its name.
type Category string

const (
	Forward       Category = "FW"
	Backward      Category = "BW"
	Communication Category = "Comm"
	Step          Category = "STEP"
	Other         Category = "Other"
)

// Categories in report order.
var Categories = []Category{Forward, Backward, Communication, Step, Other}

// CategoryOf returns the category of the event with the given name.
func CategoryOf(name string) Category {
	switch {
	case strings.HasPrefix(name, depgraph.FWPrefix):
		return Forward
	case strings.HasPrefix(name, depgraph.BWPrefix):
		return Backward
	case strings.HasPrefix(name, depgraph.CommPrefix):
		return Communication
	case name == depgraph.StepNode:
		return Step
	}
	return Other
}

// CategoryStats holds the duration statistics, in microseconds, of one category.
type CategoryStats struct {
	Category       Category
	Count          int
	Total          int64
	Mean, StdDev   float64
	Median, P90    float64
	Min, Max       int64
	FirstTS, EndTS int64
}

// Summarize returns the statistics of the categories present in tf, in Categories order.
func Summarize(tf *events.TraceFile) []CategoryStats {
	durations := make(map[Category][]float64)
	summaries := make(map[Category]*CategoryStats)
	for _, ev := range tf.TraceEvents {
		cat := CategoryOf(ev.Name)
		s, found := summaries[cat]
		if !found {
			s = &CategoryStats{Category: cat, Min: ev.Dur, Max: ev.Dur, FirstTS: ev.TS, EndTS: ev.End()}
			summaries[cat] = s
		}
		s.Count++
		s.Total += ev.Dur
		s.Min = min(s.Min, ev.Dur)
		s.Max = max(s.Max, ev.Dur)
		s.FirstTS = min(s.FirstTS, ev.TS)
		s.EndTS = max(s.EndTS, ev.End())
		durations[cat] = append(durations[cat], float64(ev.Dur))
	}

	var results []CategoryStats
	for _, cat := range Categories {
		s, found := summaries[cat]
		if !found {
			continue
		}
		x := durations[cat]
		slices.Sort(x)
		s.Mean, s.StdDev = stat.MeanStdDev(x, nil)
		if len(x) < 2 {
			s.StdDev = 0
		}
		s.Median = stat.Quantile(0.5, stat.Empirical, x, nil)
		s.P90 = stat.Quantile(0.9, stat.Empirical, x, nil)
		results = append(results, *s)
	}
	return results
}

// Durations returns the total duration of each graph node in tf, for depgraph.Graph.CriticalPath.
// Nodes with several events, one per iteration, are averaged per iteration.
func Durations(tf *events.TraceFile) map[string]int64 {
	total := make(map[string]int64)
	count := make(map[string]int64)
	for _, ev := range tf.TraceEvents {
		total[ev.Name] += ev.Dur
		count[ev.Name]++
	}
	for name, c := range count {
		total[name] /= c
	}
	return total
}
