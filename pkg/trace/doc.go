// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trace is the root of the trace-correlation engine.
//
// It builds a dependency graph of a training step's operators (depgraph), tracks when
// enough steps were observed (readiness), waits for side streams written by other
// processes (streamsync) and merges compute, communication and I/O events into one
// annotated timeline (correlate). Package recorder wires all of it together for a
// running training loop.
//
// This package itself only holds the error categories shared by all sub-packages.
package trace
