// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package events defines the trace event records exchanged with the producers (compute
// profiler, communication and I/O tracers) and the merged TraceFile, in the Chrome
// trace-event JSON format.
package events

import (
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Phase of a trace event.
type Phase string

const (
	PhaseBegin      Phase = "B"
	PhaseEnd        Phase = "E"
	PhaseComplete   Phase = "X"
	PhaseAsyncBegin Phase = "b"
	PhaseAsyncEnd   Phase = "e"
)

// IsBegin returns whether p opens a begin/end pair.
func (p Phase) IsBegin() bool { return p == PhaseBegin || p == PhaseAsyncBegin }

// IsEnd returns whether p closes a begin/end pair.
func (p Phase) IsEnd() bool { return p == PhaseEnd || p == PhaseAsyncEnd }

// ProcessID identifies the producer substream of an event. Producers write it either as a
// JSON number or as a string: both decode to the same ProcessID.
type ProcessID string

// UnmarshalJSON implements json.Unmarshaler.
func (p *ProcessID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := sonic.ConfigStd.Unmarshal(data, &s); err != nil {
			return errors.Wrapf(err, "invalid pid %s", data)
		}
		*p = ProcessID(s)
		return nil
	}
	if string(data) == "null" {
		*p = ""
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return errors.Errorf("invalid pid %s: must be a string or a number", data)
	}
	*p = ProcessID(data)
	return nil
}

// RawEvent is one record as written by a producer. TS is nil if the producer didn't
// record a timestamp.
type RawEvent struct {
	Name     string    `json:"name"`
	TS       *int64    `json:"ts,omitempty"`
	Dur      int64     `json:"dur,omitempty"`
	Phase    Phase     `json:"ph"`
	PID      ProcessID `json:"pid"`
	TID      ProcessID `json:"tid,omitempty"`
	Category string    `json:"cat,omitempty"`
	Args     RawArgs   `json:"args,omitempty"`
}

// RawArgs are free-form event arguments. Non-string values written by producers are
// converted to their JSON text.
type RawArgs map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (a *RawArgs) UnmarshalJSON(data []byte) error {
	var values map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &values); err != nil {
		return errors.Wrap(err, "invalid event args")
	}
	if values == nil {
		*a = nil
		return nil
	}
	args := make(RawArgs, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			args[k] = s
			continue
		}
		text, err := sonic.ConfigStd.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "invalid event arg %q", k)
		}
		args[k] = string(text)
	}
	*a = args
	return nil
}

// Timestamp returns the event timestamp, or 0 if not set.
func (e *RawEvent) Timestamp() int64 {
	if e.TS == nil {
		return 0
	}
	return *e.TS
}

// AnnotatedEvent is a complete-phase event of the merged trace. Its Args hold "name" plus
// one "input<i>" entry per incoming edge of its dependency graph node.
type AnnotatedEvent struct {
	Name     string            `json:"name"`
	TS       int64             `json:"ts"`
	Dur      int64             `json:"dur"`
	Phase    Phase             `json:"ph"`
	PID      ProcessID         `json:"pid"`
	TID      ProcessID         `json:"tid,omitempty"`
	Category string            `json:"cat,omitempty"`
	Args     map[string]string `json:"args"`
}

// End returns the timestamp where the event finishes.
func (e *AnnotatedEvent) End() int64 { return e.TS + e.Dur }

// TraceFile is the merged, annotated trace of a run.
type TraceFile struct {
	TraceEvents []AnnotatedEvent `json:"traceEvents"`
}

// RawTrace is the document written by each producer.
type RawTrace struct {
	TraceEvents []RawEvent `json:"traceEvents"`
}
