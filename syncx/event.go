/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package syncx collects the synchronization primitives the pool and the
// protocol engines share: a one-shot Event, a bounded Semaphore wrapping
// golang.org/x/sync/semaphore, and a cancellation Shield. Everything here
// is built on a blocking-I/O, OS-thread-per-request scheduling model; a
// cooperative-scheduler build would swap these for suspension-point
// equivalents behind the same surface.
package syncx

import (
	"context"
	"sync"
)

// Event is set at most once (used for PoolRequest.connection_acquired:
// "set exactly once; re-queueing constructs a fresh event"). Wait blocks
// until Set is called or ctx is done.
type Event struct {
	once sync.Once
	ch   chan struct{}
}

// NewEvent returns a fresh, unset Event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set marks the event as triggered. Safe to call more than once; only the
// first call has effect.
func (e *Event) Set() {
	e.once.Do(func() { close(e.ch) })
}

// IsSet reports whether Set has been called, without blocking.
func (e *Event) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until Set is called or ctx is cancelled/times out, returning
// ctx.Err() in the latter case.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
