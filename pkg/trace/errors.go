package trace

import "github.com/pkg/errors"

// Error categories. Concrete errors returned by the sub-packages wrap one of these,
// so callers can test with errors.Is.
var (
	// ErrConfiguration is returned for invalid step thresholds or missing settings.
	ErrConfiguration = errors.New("invalid trace configuration")

	// ErrParse is returned for malformed debug dumps, unmatched begin events and
	// communication events that can't be resolved against the graph.
	ErrParse = errors.New("trace parse error")

	// ErrTimeout is returned when a side stream doesn't show up in time.
	ErrTimeout = errors.New("timed out waiting for trace stream")
)
