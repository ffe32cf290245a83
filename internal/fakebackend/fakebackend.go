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

// Package fakebackend is a scripted backend.Backend/backend.Stream pair for
// tests: a Stream replays preset server bytes and records what the engine
// wrote, a Backend hands out a queue of Streams (or errors) in order. It is
// not exported outside the module; every _test.go package that needs a
// stand-in transport imports it directly instead of reimplementing one.
package fakebackend

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"sync"
	"time"

	"github.com/sabouaram/httpcore/backend"
)

// Stream is a scripted backend.Stream: Read drains a queue of preset chunks
// (nil or empty chunks are skipped), Write appends to Out so
// a test can assert on what the engine sent.
type Stream struct {
	mu       sync.Mutex
	chunks   [][]byte
	closed   bool
	readable bool
	tlsNext  *Stream
	tlsErr   error
	extra    map[backend.ExtraInfoKey]interface{}

	Out bytes.Buffer
}

var _ backend.Stream = (*Stream)(nil)

// NewStream returns a Stream that yields chunks, in order, to successive
// Read calls, then reports io.EOF.
func NewStream(chunks ...[]byte) *Stream {
	return &Stream{chunks: chunks, extra: map[backend.ExtraInfoKey]interface{}{}}
}

// Feed appends more chunks to the read queue, for tests that need to
// extend a stream's script after construction (e.g. simulating the server
// trickling bytes across several reads).
func (s *Stream) Feed(chunks ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
}

// SetReadable controls what ExtraInfo(ExtraInfoIsReadable) reports, the
// signal http1.Conn.acquire uses to detect a server that closed an
// apparently-idle keep-alive socket.
func (s *Stream) SetReadable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readable = v
}

// SetTLSResult arranges for StartTLS to return (next, err).
func (s *Stream) SetTLSResult(next *Stream, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tlsNext, s.tlsErr = next, err
}

// SetExtra overrides a single ExtraInfo key/value pair.
func (s *Stream) SetExtra(key backend.ExtraInfoKey, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra[key] = value
}

func (s *Stream) Read(p []byte, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.chunks) > 0 && len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
	}
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	s.chunks[0] = s.chunks[0][n:]
	if len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *Stream) Write(p []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Out.Write(p)
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Written returns a copy of everything written to the stream so far.
func (s *Stream) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.Out.Bytes()...)
}

func (s *Stream) StartTLS(_ context.Context, _ *tls.Config, _ string, _ time.Duration) (backend.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tlsErr != nil {
		return nil, s.tlsErr
	}
	if s.tlsNext != nil {
		return s.tlsNext, nil
	}
	return s, nil
}

func (s *Stream) ExtraInfo(key backend.ExtraInfoKey) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == backend.ExtraInfoIsReadable {
		return s.readable, true
	}
	v, ok := s.extra[key]
	return v, ok
}

// Backend is a scripted backend.Backend: ConnectTCP/ConnectUnix hand out a
// queue of (Stream, error) results in order, and Sleep records the
// requested durations instead of actually sleeping, so retry/backoff tests
// run instantly and assert on the delay sequence directly.
type Backend struct {
	mu      sync.Mutex
	results []connectResult
	sleeps  []time.Duration
}

type connectResult struct {
	stream *Stream
	err    error
}

// NewBackend returns a Backend that hands out streams in order on
// successive ConnectTCP/ConnectUnix calls.
func NewBackend(streams ...*Stream) *Backend {
	b := &Backend{}
	for _, s := range streams {
		b.results = append(b.results, connectResult{stream: s})
	}
	return b
}

// QueueError appends a failing connect result to the queue.
func (b *Backend) QueueError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, connectResult{err: err})
}

// QueueStream appends a successful connect result to the queue.
func (b *Backend) QueueStream(s *Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, connectResult{stream: s})
}

func (b *Backend) next() (backend.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.results) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	r := b.results[0]
	b.results = b.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.stream, nil
}

func (b *Backend) ConnectTCP(_ context.Context, _ string, _ int, _ time.Duration, _ string, _ backend.TCPOptions) (backend.Stream, error) {
	return b.next()
}

func (b *Backend) ConnectUnix(_ context.Context, _ string, _ time.Duration, _ backend.TCPOptions) (backend.Stream, error) {
	return b.next()
}

func (b *Backend) Sleep(ctx context.Context, d time.Duration) error {
	b.mu.Lock()
	b.sleeps = append(b.sleeps, d)
	b.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Sleeps returns the sequence of durations recorded by Sleep calls so far.
func (b *Backend) Sleeps() []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Duration(nil), b.sleeps...)
}

var _ backend.Backend = (*Backend)(nil)
