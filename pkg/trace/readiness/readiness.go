// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package readiness decides when enough training steps were observed to stop tracing.
//
// Every tracked quantity (a trainable parameter, identified by its index) reports each of
// its updates with Tracker.Observe. Once the step counter reaches the end step, Observe asks
// the caller to emit the quantity's communication trace; the caller confirms with
// MarkEmitted. When all registered quantities were emitted, the tracker finishes.
package readiness

import (
	"bufio"
	"os"
	"strings"

	"github.com/gomlx/steptrace/pkg/trace"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Builder for a Tracker. Create it with New and finish with Done.
type Builder struct {
	start, end   int
	manifestPath string
	onStart      func()
	onFinish     func()
}

// New starts the configuration of a Tracker that starts recording when the step counter
// reaches start and asks for emission once it reaches end.
func New(start, end int) *Builder {
	return &Builder{start: start, end: end}
}

// Manifest sets the path of the file with the names of the tracked quantities, one per line,
// in index order. It's read the first time the end step is reached. If not set, names
// are not available.
func (b *Builder) Manifest(path string) *Builder {
	b.manifestPath = path
	return b
}

// OnStart sets a function called once, when the step counter reaches the start step.
func (b *Builder) OnStart(fn func()) *Builder {
	b.onStart = fn
	return b
}

// OnFinish sets a function called once, when the tracker reaches its finished state.
// It is called synchronously from Observe, so it should hand off any long work.
func (b *Builder) OnFinish(fn func()) *Builder {
	b.onFinish = fn
	return b
}

// Done validates the configuration and returns the Tracker.
func (b *Builder) Done() (*Tracker, error) {
	if err := ValidateSteps(b.start, b.end); err != nil {
		return nil, err
	}
	return &Tracker{
		start:        b.start,
		end:          b.end,
		manifestPath: b.manifestPath,
		onStart:      b.onStart,
		onFinish:     b.onFinish,
		emitted:      make(map[int]bool),
	}, nil
}

// ValidateSteps returns an error wrapping trace.ErrConfiguration if start < 1 or end <= start.
func ValidateSteps(start, end int) error {
	if start < 1 {
		return errors.Wrapf(trace.ErrConfiguration, "start step must be >= 1, got %d", start)
	}
	if end <= start {
		return errors.Wrapf(trace.ErrConfiguration, "end step (%d) must be greater than start step (%d)", end, start)
	}
	return nil
}

// Tracker holds the per-quantity emission state of a run. It is not safe for concurrent
// use: callers serialize Observe and MarkEmitted.
type Tracker struct {
	start, end   int
	manifestPath string
	onStart      func()
	onFinish     func()

	step     int
	emitted  map[int]bool
	pending  int
	names    []string
	loaded   bool
	finished bool
}

// Observe records one update of the quantity index. advance must be true for exactly one
// canonical index per step (typically 0): it increments the step counter.
//
// It returns true if the caller should emit this quantity's trace, and later confirm with
// MarkEmitted. It returns false before the end step, for quantities already emitted and
// once the tracker finished. The only error is failing to read the manifest.
func (t *Tracker) Observe(index int, advance bool) (bool, error) {
	if t.finished {
		return false, nil
	}
	done, found := t.emitted[index]
	if !found {
		t.emitted[index] = false
		t.pending++
	}
	if done {
		if t.pending == 0 {
			t.finish()
		}
		return false, nil
	}

	if advance {
		t.step++
		if t.step == t.start {
			klog.V(1).Infof("readiness: reached start step %d", t.start)
			if t.onStart != nil {
				t.onStart()
			}
		}
	}
	if t.step < t.end {
		return false, nil
	}
	if !t.loaded {
		if t.manifestPath != "" {
			names, err := LoadManifest(t.manifestPath)
			if err != nil {
				return false, err
			}
			t.names = names
		}
		t.loaded = true
	}
	return true, nil
}

// MarkEmitted records that the trace of quantity index was emitted. Once set, it's never reset.
func (t *Tracker) MarkEmitted(index int) {
	done, found := t.emitted[index]
	if done {
		return
	}
	t.emitted[index] = true
	if found {
		t.pending--
	}
}

func (t *Tracker) finish() {
	t.finished = true
	klog.Infof("readiness: all %d tracked quantities emitted at step %d", len(t.emitted), t.step)
	if t.onFinish != nil {
		t.onFinish()
	}
}

// Finished returns whether the tracker reached its terminal state.
func (t *Tracker) Finished() bool { return t.finished }

// Step returns the current step counter.
func (t *Tracker) Step() int { return t.step }

// StartStep configured.
func (t *Tracker) StartStep() int { return t.start }

// EndStep configured.
func (t *Tracker) EndStep() int { return t.end }

// NumTracked returns the number of registered quantities.
func (t *Tracker) NumTracked() int { return len(t.emitted) }

// Names returns the names of the tracked quantities, indexed by quantity index, or nil
// if the manifest wasn't loaded yet.
func (t *Tracker) Names() []string { return t.names }

// Name returns the name of quantity index, if known.
func (t *Tracker) Name(index int) (string, bool) {
	if index < 0 || index >= len(t.names) {
		return "", false
	}
	return t.names[index], true
}

// LoadManifest reads the newline-delimited names of the tracked quantities: the name of
// quantity i is on line i.
func LoadManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open manifest %q", path)
	}
	defer func() { _ = f.Close() }()
	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		names = append(names, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %q", path)
	}
	return names, nil
}
