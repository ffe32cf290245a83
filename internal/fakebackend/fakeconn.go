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

package fakebackend

import (
	"context"
	"sync"

	"github.com/sabouaram/httpcore/connapi"
	"github.com/sabouaram/httpcore/message"
)

// Conn is a scripted connapi.Conn standing in for a real HTTP/1.1, HTTP/2
// or proxy connection in pool-scheduler tests: it never touches a network,
// just tracks idle/available/expired/closed state and counts
// HandleRequest calls.
type Conn struct {
	mu sync.Mutex

	origin      message.Origin
	available   bool
	idle        bool
	expired     bool
	closed      bool
	handleErr   error
	handleCount int

	// Response, if set, is returned verbatim by HandleRequest (with a
	// fresh Stream each call's caller can still Close independently).
	Response *message.Response
}

var _ connapi.Conn = (*Conn)(nil)

// NewConn returns a Conn for origin, starting available, idle and open.
func NewConn(origin message.Origin) *Conn {
	return &Conn{origin: origin, available: true, idle: true}
}

func (c *Conn) Origin() message.Origin { return c.origin }

func (c *Conn) CanHandleRequest(origin message.Origin) bool { return c.origin.Equal(origin) }

func (c *Conn) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available && !c.closed
}

func (c *Conn) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

func (c *Conn) HasExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Info() string { return "fake" }

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) HandleRequest(_ context.Context, req *message.Request) (*message.Response, error) {
	c.mu.Lock()
	c.handleCount++
	c.available = false
	c.idle = false
	err := c.handleErr
	resp := c.Response
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &message.Response{Status: 200}
	}
	out := *resp
	inner := out.Stream
	if inner == nil {
		inner = message.EmptyBodyStream
	}
	out.Stream = &releasingStream{inner: inner, conn: c}
	return &out, nil
}

// releasingStream wraps a response body so that, as with a real HTTP/1.1
// or HTTP/2 engine, closing it returns the connection to an idle,
// available state the pool can reassign.
type releasingStream struct {
	inner  message.ByteStream
	conn   *Conn
	closed bool
}

var _ message.ByteStream = (*releasingStream)(nil)

func (s *releasingStream) Next() ([]byte, error) { return s.inner.Next() }

func (s *releasingStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.inner.Close()
	s.conn.Release()
	return err
}

// SetAvailable/SetIdle/SetExpired directly control the state the pool
// scheduler observes.
func (c *Conn) SetAvailable(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = v
}

func (c *Conn) SetIdle(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idle = v
}

func (c *Conn) SetExpired(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired = v
}

// SetHandleErr makes future HandleRequest calls fail with err.
func (c *Conn) SetHandleErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handleErr = err
}

// Release marks the connection available and idle again, as a real
// connection would once its response body is closed.
func (c *Conn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = true
	c.idle = true
}

// HandleCount reports how many times HandleRequest has been called.
func (c *Conn) HandleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handleCount
}
