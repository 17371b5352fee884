// Package streamsync waits for trace streams written asynchronously by other producers.
// A stream is ready when its file exists: there is no separate lock or flag file.
package streamsync

import (
	"fmt"
	"time"

	"github.com/gomlx/steptrace/pkg/support/fsutil"
	"github.com/gomlx/steptrace/pkg/trace"
	"k8s.io/klog/v2"
)

const (
	DefaultInterval = 100 * time.Millisecond
	DefaultTimeout  = 10 * time.Second
)

// TimeoutError is returned when a waited-for stream isn't ready within the timeout.
type TimeoutError struct {
	Label   string
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stream %q not ready after %s", e.Label, e.Elapsed.Round(time.Millisecond))
}

// Unwrap returns trace.ErrTimeout.
func (e *TimeoutError) Unwrap() error { return trace.ErrTimeout }

// Synchronizer polls predicates on a fixed interval until they hold or the timeout expires.
type Synchronizer struct {
	Interval time.Duration
	Timeout  time.Duration
}

// New returns a Synchronizer with DefaultInterval and DefaultTimeout.
func New() *Synchronizer {
	return &Synchronizer{Interval: DefaultInterval, Timeout: DefaultTimeout}
}

// WaitFor blocks until predicate returns true, checking it first right away and then at
// every interval. It returns a *TimeoutError naming label if the timeout expires first.
func (s *Synchronizer) WaitFor(predicate func() bool, label string) error {
	interval, timeout := s.Interval, s.Timeout
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	if predicate() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ticker.C:
			if predicate() {
				klog.V(1).Infof("streamsync: %q ready after %s", label, time.Since(start))
				return nil
			}
		case <-deadline.C:
			// One last check, the producer may have finished right at the deadline.
			if predicate() {
				return nil
			}
			return &TimeoutError{Label: label, Elapsed: time.Since(start)}
		}
	}
}

// WaitForFile waits for filePath to exist. Filesystem errors other than the file not
// existing are logged and treated as "not ready yet".
func (s *Synchronizer) WaitForFile(filePath, label string) error {
	return s.WaitFor(func() bool {
		exists, err := fsutil.FileExists(filePath)
		if err != nil {
			klog.Warningf("streamsync: %v", err)
			return false
		}
		return exists
	}, label)
}
