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

// Package connapi defines the capability interface the pool dispatches
// through, regardless of negotiated protocol version: HTTP/1.1 and HTTP/2
// direct connections, and the proxy adapters in proxy/forward,
// proxy/tunnel, proxy/socks5, all implement Conn. Dynamic dispatch happens
// only at the pool boundary; each concrete type is otherwise a plain
// struct.
package connapi

import (
	"context"

	"github.com/sabouaram/httpcore/message"
)

// Conn is the capability set the pool scheduler needs from any connection,
// whatever protocol or proxy adapter backs it.
type Conn interface {
	// Origin is the endpoint this connection was built to serve.
	Origin() message.Origin

	// CanHandleRequest reports whether this connection could serve a
	// request addressed to origin.
	CanHandleRequest(origin message.Origin) bool

	// IsAvailable reports whether a new request could be assigned now.
	IsAvailable() bool
	// IsIdle reports zero in-flight requests/streams.
	IsIdle() bool
	// HasExpired reports whether the keep-alive expiry has passed while
	// idle.
	HasExpired() bool
	// IsClosed reports whether the connection is permanently done.
	IsClosed() bool

	// HandleRequest performs the protocol exchange. It may return
	// errors.ConnectionNotAvailable, handled internally by the pool's
	// retry loop.
	HandleRequest(ctx context.Context, req *message.Request) (*message.Response, error)

	// Info is a short human-readable status string.
	Info() string

	// Close tears the connection down. Idempotent.
	Close() error
}
