package recorder

import (
	"github.com/gomlx/steptrace/pkg/trace/events"
)

// ComputeSource is the framework's profiler producing the raw compute events.
type ComputeSource interface {
	// Start recording. Called once, when the start step is reached.
	Start() error

	// Stop recording. Called once, by the finalization job.
	Stop() error

	// Events returns the recorded raw events. Called after Stop.
	Events() ([]events.RawEvent, error)
}

// FileComputeSource reads the compute events from the profiler's JSON dump at Path.
// Starting and stopping the profiler is left to the framework.
type FileComputeSource struct {
	Path string
}

var _ ComputeSource = (*FileComputeSource)(nil)

// Start implements ComputeSource.
func (s *FileComputeSource) Start() error { return nil }

// Stop implements ComputeSource.
func (s *FileComputeSource) Stop() error { return nil }

// Events implements ComputeSource.
func (s *FileComputeSource) Events() ([]events.RawEvent, error) {
	return events.LoadRawFile(s.Path)
}
