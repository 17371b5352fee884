// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs background jobs (e.g. trace finalization) on a bounded set of goroutines,
// keeping the submitting path free to return immediately.
package workerspool

import (
	"sync"

	"github.com/gomlx/steptrace/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pool of workers.
type Pool struct {
	// maxParallelism is the limit of jobs running at the same time. If < 0 it is unlimited.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning or numQueued decreases.
	numRunning     int
	numQueued      int
}

// New returns a new Pool running at most maxParallelism jobs at a time.
// If maxParallelism <= 0, parallelism is unlimited.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsUnlimited returns whether parallelism is unlimited.
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism <= 0
}

// MaxParallelism returns the configured limit of parallel jobs.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.IsUnlimited() {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// Submit enqueues task and returns immediately. The returned latch is triggered with
// the task's error (nil on success) once it finishes.
//
// A panicking task is converted to an error, so Wait never hangs on it.
func (w *Pool) Submit(task func() error) *xsync.LatchWithValue[error] {
	done := xsync.NewLatchWithValue[error]()
	w.mu.Lock()
	w.numQueued++
	w.mu.Unlock()
	go func() {
		w.mu.Lock()
		for w.lockedIsFull() {
			w.cond.Wait()
		}
		w.numQueued--
		w.numRunning++
		w.mu.Unlock()

		err := runTask(task)
		if err != nil {
			klog.Errorf("background job failed: %+v", err)
		}
		done.Trigger(err)

		w.mu.Lock()
		w.numRunning--
		w.cond.Broadcast()
		w.mu.Unlock()
	}()
	return done
}

func runTask(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.WithMessage(e, "background job panicked")
				return
			}
			err = errors.Errorf("background job panicked: %v", r)
		}
	}()
	return task()
}

// NumPending returns the number of jobs queued or running.
func (w *Pool) NumPending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRunning + w.numQueued
}

// Wait blocks until every submitted job has finished, including jobs submitted while waiting.
func (w *Pool) Wait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning+w.numQueued > 0 {
		w.cond.Wait()
	}
}
