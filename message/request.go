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

package message

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/sabouaram/httpcore/duration"
)

// Timeout groups the per-class timeouts accepted in
// Request.Extensions.Timeout. A nil field means "no
// timeout for this class".
type Timeout struct {
	Connect *duration.Duration
	Read    *duration.Duration
	Write   *duration.Duration
	Pool    *duration.Duration
}

// TraceFunc is the per-request trace callback: name is one of the dotted
// phase names (e.g. "connection.connect_tcp.started"); kwargs
// carries phase-specific details.
type TraceFunc func(name string, kwargs map[string]interface{})

// Extensions carries the out-of-band request knobs the core understands:
// timeout, a trace callback, a target-path override and an SNI hostname
// override for TLS.
type Extensions struct {
	Timeout     Timeout
	Trace       TraceFunc
	Target      []byte
	SNIHostname string
}

func (e Extensions) trace(name string, kwargs map[string]interface{}) {
	if e.Trace != nil {
		e.Trace(name, kwargs)
	}
}

// Request is the immutable (save for its Stream, which is consumed once)
// outbound message handed to Pool.HandleRequest.
type Request struct {
	Method     string
	URL        URL
	Headers    Headers
	Stream     ByteStream
	Extensions Extensions

	// ID correlates a request across trace events and log lines. Assigned
	// by AssignID/Pool.HandleRequest if left empty.
	ID string
}

// AssignID fills r.ID with a fresh random UUID if it isn't already set,
// and returns it.
func (r *Request) AssignID() string {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return r.ID
}

// Trace invokes the request's trace callback, if any, always attaching
// the request's correlation id under "request_id".
func (r *Request) Trace(name string, kwargs map[string]interface{}) {
	if r.Extensions.Trace == nil {
		return
	}
	out := make(map[string]interface{}, len(kwargs)+1)
	for k, v := range kwargs {
		out[k] = v
	}
	out["request_id"] = r.ID
	r.Extensions.trace(name, out)
}

// Normalize injects a Host header (if absent) and a Content-Length or
// Transfer-Encoding header (if a body is present and neither is set),
// It mutates and returns r.Headers.
func (r *Request) Normalize() Headers {
	h := r.Headers

	if !h.Has("Host") {
		h = Header{Name: "Host", Value: r.URL.Origin().HostHeader()}.prepend(h)
	}

	if r.Stream != nil && r.Stream != ByteStream(EmptyBodyStream) {
		if !h.Has("Content-Length") && !h.Has("Transfer-Encoding") {
			if pb, ok := r.Stream.(*PlainBodyStream); ok {
				h = h.Set("Content-Length", strconv.Itoa(pb.Len()))
			} else {
				h = h.Set("Transfer-Encoding", "chunked")
			}
		}
	}

	r.Headers = h
	return h
}

func (kv Header) prepend(h Headers) Headers {
	out := make(Headers, 0, len(h)+1)
	out = append(out, kv)
	out = append(out, h...)
	return out
}
