// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements some extra synchronization tools used by the data pipeline.
package xsync

import "sync"

// Latch is a one-way signal: once triggered it stays triggered, and every waiter is released.
type Latch struct {
	once   sync.Once
	closed chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{closed: make(chan struct{})}
}

// Trigger the latch. Triggering more than once is a no-op.
func (l *Latch) Trigger() {
	l.once.Do(func() { close(l.closed) })
}

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() {
	<-l.closed
}

// Test reports whether the latch was triggered, without blocking.
func (l *Latch) Test() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// WaitChan returns a channel closed when the latch is triggered, to be used in a `select`.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.closed
}

// Semaphore limits the number of simultaneous acquisitions to a capacity.
// A capacity <= 0 means no limit.
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore returns a Semaphore that allows at most capacity simultaneous acquisitions.
func NewSemaphore(capacity int) *Semaphore {
	s := &Semaphore{}
	if capacity > 0 {
		s.tokens = make(chan struct{}, capacity)
	}
	return s
}

// Acquire blocks until a resource is available. It must be matched by exactly one call to Release.
func (s *Semaphore) Acquire() {
	if s.tokens != nil {
		s.tokens <- struct{}{}
	}
}

// Release a resource previously taken with Acquire.
func (s *Semaphore) Release() {
	if s.tokens != nil {
		<-s.tokens
	}
}

// Go runs task in a goroutine once a resource is available, and releases it when the task returns.
// `wg` is incremented before Go returns, and marked done when the task finishes.
func (s *Semaphore) Go(wg *sync.WaitGroup, task func()) {
	s.Acquire()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.Release()
		task()
	}()
}
