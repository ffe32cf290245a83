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

// Package forward implements the plain-HTTP forwarding proxy adapter: it
// rewrites each request's target to its absolute-form URL and sends it,
// unmodified otherwise, down an ordinary HTTP/1.1 connection to the proxy
// itself. One Conn can serve any number of distinct plaintext-HTTP
// origins, since the proxy — not this process — opens the connection to
// the real origin.
package forward

import (
	"context"

	"github.com/sabouaram/httpcore/connapi"
	"github.com/sabouaram/httpcore/connection"
	"github.com/sabouaram/httpcore/message"
)

// Conn is a connapi.Conn that forwards every request to a configured HTTP
// proxy using the absolute-form request target. It only ever targets
// plaintext http origins; CanHandleRequest checks scheme alone.
type Conn struct {
	proxyOrigin message.Origin
	headers     message.Headers
	inner       *connection.Conn
}

// New builds a forwarding-proxy Conn that opens connOpts' transport to
// proxyOrigin and merges proxyHeaders into every forwarded request.
func New(proxyOrigin message.Origin, proxyHeaders message.Headers, connOpts connection.Options) *Conn {
	connOpts.HTTP2 = false // the proxy hop itself is always plain HTTP/1.1
	return &Conn{
		proxyOrigin: proxyOrigin,
		headers:     proxyHeaders,
		inner:       connection.New(proxyOrigin, connOpts),
	}
}

var _ connapi.Conn = (*Conn)(nil)

func (c *Conn) Origin() message.Origin { return c.proxyOrigin }

// CanHandleRequest is true for any plaintext HTTP origin: the proxy
// itself resolves the real destination from the absolute-form target.
func (c *Conn) CanHandleRequest(origin message.Origin) bool {
	return origin.Scheme == "http"
}

func (c *Conn) IsAvailable() bool { return c.inner.IsAvailable() }
func (c *Conn) IsIdle() bool      { return c.inner.IsIdle() }
func (c *Conn) HasExpired() bool  { return c.inner.HasExpired() }
func (c *Conn) IsClosed() bool    { return c.inner.IsClosed() }
func (c *Conn) Close() error      { return c.inner.Close() }

func (c *Conn) Info() string {
	return "Forwarding Proxy, " + c.inner.Info()
}

// HandleRequest rewrites req so the wire request-target is the absolute
// original URL, merges in the proxy's own headers (only where the caller
// hasn't already set them), and sends it over the connection to the
// proxy.
func (c *Conn) HandleRequest(ctx context.Context, req *message.Request) (*message.Response, error) {
	rewritten := *req
	absolute := []byte(req.URL.String())

	port := c.proxyOrigin.Port
	rewritten.URL = message.URL{
		Scheme: c.proxyOrigin.Scheme,
		Host:   c.proxyOrigin.Host,
		Port:   &port,
		Target: req.URL.Target,
	}
	rewritten.Extensions.Target = absolute
	rewritten.Headers = mergeHeaders(req.Headers, c.headers)

	return c.inner.HandleRequest(ctx, &rewritten)
}

// mergeHeaders appends any proxy-provided header whose name isn't already
// present in req, preserving req's own header order and values.
func mergeHeaders(req, proxy message.Headers) message.Headers {
	out := req.Clone()
	for _, kv := range proxy {
		if !out.Has(kv.Name) {
			out = out.Set(kv.Name, kv.Value)
		}
	}
	return out
}
