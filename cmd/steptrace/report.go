package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/steptrace/pkg/trace/tracestats"
)

// micros formats a duration given in microseconds.
func micros[T int64 | float64](us T) string {
	return (time.Duration(us) * time.Microsecond).Round(time.Microsecond).String()
}

// report renders the per category statistics of the merged trace.
func report(r *mergeResult) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Merged trace: %s events, graph with %s nodes and %s edges",
		humanize.Comma(int64(len(r.trace.TraceEvents))),
		humanize.Comma(int64(r.graph.NumNodes())),
		humanize.Comma(int64(r.graph.NumEdges())))))
	sb.WriteString("\n")

	table := newPlainTable(lipgloss.Left, lipgloss.Right).
		Headers("Category", "Events", "Total", "Mean", "StdDev", "Median", "P90", "Min", "Max", "Span")
	for _, s := range tracestats.Summarize(r.trace) {
		table.Row(
			string(s.Category),
			humanize.Comma(int64(s.Count)),
			micros(s.Total),
			micros(s.Mean),
			micros(s.StdDev),
			micros(s.Median),
			micros(s.P90),
			micros(s.Min),
			micros(s.Max),
			micros(s.EndTS-s.FirstTS),
		)
	}
	sb.WriteString(table.Render())
	return sb.String()
}

// criticalPathReport renders the longest chain of dependent operations of one iteration,
// using the mean duration of each operation in the merged trace.
func criticalPathReport(r *mergeResult) (string, error) {
	durations := tracestats.Durations(r.trace)
	path, total, err := r.graph.CriticalPath(durations)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Critical path: %d nodes, %s", len(path), micros(total))))
	sb.WriteString("\n")
	table := newPlainTable(lipgloss.Right, lipgloss.Left, lipgloss.Right).
		Headers("#", "Node", "Duration")
	for i, id := range path {
		table.Row(humanize.Comma(int64(i)), id, micros(durations[id]))
	}
	sb.WriteString(table.Render())
	return sb.String(), nil
}
