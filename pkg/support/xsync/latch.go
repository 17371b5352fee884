// Package xsync implements some extra synchronization tools.
package xsync

import "sync"

// Latch is a signal that can be waited for until it is triggered.
// Once triggered it never changes state.
type Latch struct {
	mu   sync.Mutex
	wait chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{wait: make(chan struct{})}
}

// Trigger the latch. It returns false if it had already been triggered.
func (l *Latch) Trigger() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Test() {
		return false
	}
	close(l.wait)
	return true
}

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() {
	<-l.wait
}

// Test checks whether the latch has been triggered, without blocking.
func (l *Latch) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}

// WaitChan returns a channel that is closed when the latch triggers, for use in a `select`.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.wait
}

// LatchWithValue is a Latch that carries a value set when it is triggered, typically the
// result of some asynchronous job.
type LatchWithValue[T any] struct {
	value T
	latch *Latch
}

// NewLatchWithValue returns an un-triggered latch.
func NewLatchWithValue[T any]() *LatchWithValue[T] {
	return &LatchWithValue[T]{latch: NewLatch()}
}

// Trigger the latch and store value. Only the first call has any effect.
func (l *LatchWithValue[T]) Trigger(value T) {
	l.latch.mu.Lock()
	defer l.latch.mu.Unlock()
	if l.latch.Test() {
		return
	}
	l.value = value
	close(l.latch.wait)
}

// Wait blocks until the latch is triggered and returns its value.
func (l *LatchWithValue[T]) Wait() T {
	l.latch.Wait()
	return l.value
}

// Test checks whether the latch has been triggered.
func (l *LatchWithValue[T]) Test() bool {
	return l.latch.Test()
}

// WaitChan returns a channel closed when the latch triggers.
func (l *LatchWithValue[T]) WaitChan() <-chan struct{} {
	return l.latch.WaitChan()
}
