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

package http1

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sabouaram/httpcore/backend"
	"github.com/sabouaram/httpcore/connapi"
	"github.com/sabouaram/httpcore/duration"
	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/message"
)

func init() {
	liberr.RegisterFctMessage(liberr.MinPkgHTTP1, messageFor)
}

const (
	errLocalProtocol liberr.CodeError = liberr.MinPkgHTTP1 + iota
	errRemoteProtocol
)

func messageFor(code liberr.CodeError) string {
	switch code {
	case errLocalProtocol:
		return "http1: local protocol violation"
	case errRemoteProtocol:
		return "http1: remote protocol violation"
	}
	return ""
}

// State is the engine-local connection state.
type State int

const (
	Idle State = iota
	Active
	Closed
)

// Conn drives a single HTTP/1.1 connection: one request in flight at a
// time, keep-alive reuse, 1xx handling, Upgrade/CONNECT passthrough. It
// implements connapi.Conn.
type Conn struct {
	origin  message.Origin
	stream  backend.Stream
	keepAlive time.Duration

	mu           sync.Mutex
	state        State
	requestCount int
	expireAt     time.Time
	hasExpiry    bool
	closeAfter   bool

	parser *ResponseParser
}

// NewConn wraps an already-connected stream as an HTTP/1.1 engine.
func NewConn(origin message.Origin, stream backend.Stream, keepAlive time.Duration) *Conn {
	return &Conn{origin: origin, stream: stream, keepAlive: keepAlive, state: Idle, parser: NewResponseParser()}
}

var _ connapi.Conn = (*Conn)(nil)

func (c *Conn) Origin() message.Origin { return c.origin }

func (c *Conn) CanHandleRequest(origin message.Origin) bool {
	return c.origin.Equal(origin)
}

func (c *Conn) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Idle
}

func (c *Conn) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Idle
}

func (c *Conn) HasExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Idle && c.hasExpiry && !time.Now().Before(c.expireAt)
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Closed
}

func (c *Conn) Info() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := map[State]string{Idle: "IDLE", Active: "ACTIVE", Closed: "CLOSED"}
	return fmt.Sprintf("HTTP/1.1, %s, Request Count: %d", names[c.state], c.requestCount)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	c.mu.Unlock()
	return c.stream.Close()
}

// HandleRequest drives one request/response exchange over the connection.
func (c *Conn) HandleRequest(ctx context.Context, req *message.Request) (*message.Response, error) {
	if !c.origin.Equal(req.URL.Origin()) {
		return nil, errLocalProtocol.Errorf("http1: origin mismatch").Add(liberr.LocalProtocolError.Error())
	}

	if err := c.acquire(); err != nil {
		return nil, err
	}

	req.Trace("http11.send_request_headers.started", nil)
	if err := c.sendHead(req); err != nil {
		c.failAndClose()
		req.Trace("http11.send_request_headers.failed", map[string]interface{}{"error": err})
		return nil, err
	}
	req.Trace("http11.send_request_headers.complete", nil)

	req.Trace("http11.send_request_body.started", nil)
	if err := c.sendBody(req); err != nil {
		c.failAndClose()
		req.Trace("http11.send_request_body.failed", map[string]interface{}{"error": err})
		return nil, err
	}
	req.Trace("http11.send_request_body.complete", nil)

	req.Trace("http11.receive_response_headers.started", nil)
	status, reason, headers, err := c.readHead(req)
	if err != nil {
		c.failAndClose()
		req.Trace("http11.receive_response_headers.failed", map[string]interface{}{"error": err})
		return nil, err
	}
	req.Trace("http11.receive_response_headers.complete", map[string]interface{}{"status": status})
	c.incrementRequestCount()
	c.noteConnectionClose(req.Headers, headers)

	resp := &message.Response{
		Status:  status,
		Headers: headers,
		Extensions: message.ResponseExtensions{
			HTTPVersion:  message.HTTP11,
			ReasonPhrase: reason,
		},
	}

	if status == 101 || (req.Method == "CONNECT" && status >= 200 && status < 300) {
		resp.Stream = message.EmptyBodyStream
		resp.Extensions.NetworkStream = newUpgradeStream(c)
		return resp, nil
	}

	resp.Stream = newResponseBodyStream(c, req)
	return resp, nil
}

// noteConnectionClose records whether either side asked for the connection
// to be closed once this exchange is done (RFC 9112 §9.6): a request or
// response carrying a Connection header whose value includes "close".
func (c *Conn) noteConnectionClose(reqHeaders, respHeaders message.Headers) {
	if headerHasClose(reqHeaders) || headerHasClose(respHeaders) {
		c.mu.Lock()
		c.closeAfter = true
		c.mu.Unlock()
	}
}

func headerHasClose(h message.Headers) bool {
	v, ok := h.Get("Connection")
	return ok && strings.Contains(strings.ToLower(v), "close")
}

func (c *Conn) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Idle {
		if readable, ok := c.stream.ExtraInfo(backend.ExtraInfoIsReadable); ok && readable.(bool) {
			c.state = Closed
			return liberr.ServerDisconnectedError.Error()
		}
	} else if c.state != Idle {
		return liberr.ConnectionNotAvailable.Error()
	}

	c.state = Active
	c.hasExpiry = false
	return nil
}

func (c *Conn) sendHead(req *message.Request) error {
	req.Normalize()
	head := BuildRequestHead(req)
	if err := c.stream.Write(head, writeTimeout(req)); err != nil {
		return wrapWriteErr(err)
	}
	return nil
}

func (c *Conn) sendBody(req *message.Request) error {
	if req.Stream == nil {
		return nil
	}
	_, chunked := req.Headers.Get("Transfer-Encoding")

	for {
		chunk, err := req.Stream.Next()
		if len(chunk) > 0 {
			out := chunk
			if chunked {
				out = BuildChunk(chunk)
			}
			if werr := c.stream.Write(out, writeTimeout(req)); werr != nil {
				return wrapWriteErr(werr)
			}
		}
		if err == io.EOF {
			if chunked {
				if werr := c.stream.Write(BuildChunkEnd(), writeTimeout(req)); werr != nil {
					return wrapWriteErr(werr)
				}
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Conn) readHead(req *message.Request) (int, string, message.Headers, error) {
	for {
		ev, err := c.parser.NextEvent()
		if err != nil {
			return 0, "", nil, errRemoteProtocol.Errorf("%v", err).Add(liberr.RemoteProtocolError.Error())
		}
		switch ev.Kind {
		case NeedData:
			buf := make([]byte, 64*1024)
			n, rerr := c.stream.Read(buf, readTimeout(req))
			if n > 0 {
				c.parser.Feed(buf[:n])
			}
			if rerr == io.EOF {
				c.parser.FeedEOF()
			} else if rerr != nil {
				return 0, "", nil, wrapReadErr(rerr)
			}
		case EventInformationalResponse:
			// 1xx, including 103 Early Hints: discard and continue.
			continue
		case EventResponse:
			return ev.StatusCode, ev.ReasonPhrase, ev.Headers, nil
		case EventConnectionClosed:
			return 0, "", nil, liberr.ServerDisconnectedError.Errorf("server disconnected before sending a response").Add(liberr.RemoteProtocolError.Error())
		default:
			return 0, "", nil, errRemoteProtocol.Errorf("http1: unexpected event while reading head").Add(liberr.RemoteProtocolError.Error())
		}
	}
}

func (c *Conn) failAndClose() {
	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
	_ = c.stream.Close()
}

// onResponseBodyClosed runs when the caller closes the response body: if both sides reached
// DONE, cycle the parser and return to IDLE; otherwise close.
func (c *Conn) onResponseBodyClosed(bothDone bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return
	}

	if !bothDone || c.closeAfter {
		c.state = Closed
		c.mu.Unlock()
		_ = c.stream.Close()
		c.mu.Lock()
		return
	}

	c.parser.Ready()
	c.state = Idle
	if c.keepAlive > 0 {
		c.expireAt = time.Now().Add(c.keepAlive)
		c.hasExpiry = true
	} else {
		// keepalive_expiry == 0 => never reusable.
		c.hasExpiry = true
		c.expireAt = time.Now()
	}
}

func (c *Conn) incrementRequestCount() {
	c.mu.Lock()
	c.requestCount++
	c.mu.Unlock()
}

func wrapReadErr(err error) error {
	if err == io.EOF {
		return liberr.ServerDisconnectedError.Errorf("server disconnected").Add(liberr.RemoteProtocolError.Error())
	}
	return liberr.ReadError.Error(err)
}

func wrapWriteErr(err error) error {
	return liberr.WriteError.Error(err)
}

func readTimeout(req *message.Request) time.Duration  { return durOf(req.Extensions.Timeout.Read) }
func writeTimeout(req *message.Request) time.Duration { return durOf(req.Extensions.Timeout.Write) }

func durOf(d *duration.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.Time()
}
