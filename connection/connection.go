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

// Package connection is the façade the pool schedules: it lazily opens the
// transport on first HandleRequest, negotiates ALPN when TLS is in play,
// picks the HTTP/1.1 or HTTP/2 engine accordingly, and retries a failed
// connect/handshake with exponential backoff before handing off to the
// chosen connapi.Conn for the rest of the connection's life.
package connection

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sabouaram/httpcore/backend"
	"github.com/sabouaram/httpcore/connapi"
	"github.com/sabouaram/httpcore/duration"
	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/http1"
	"github.com/sabouaram/httpcore/http2"
	"github.com/sabouaram/httpcore/message"
	"github.com/sabouaram/httpcore/tlsconfig"
)

func init() {
	liberr.RegisterFctMessage(liberr.MinPkgConnection, messageFor)
}

const (
	errOriginMismatch liberr.CodeError = liberr.MinPkgConnection + iota
)

func messageFor(code liberr.CodeError) string {
	switch code {
	case errOriginMismatch:
		return "connection: origin mismatch"
	}
	return ""
}

// Options configures how a Conn opens its transport. A nil TLS means a
// plaintext connection regardless of scheme; the caller decides that from
// the origin.
type Options struct {
	Backend    backend.Backend
	TLS        *tlsconfig.Config
	HTTP1      bool
	HTTP2      bool
	LocalAddr  string
	UDSPath    string
	TCPOptions backend.TCPOptions
	KeepAlive  time.Duration
	Retries    int
	Logger     hclog.Logger
}

// Conn is a connapi.Conn that defers opening its transport until the first
// HandleRequest call, so the pool can create one in a pending state and
// only pay the connect/handshake cost when it is actually assigned work.
type Conn struct {
	origin message.Origin
	opts   Options
	log    hclog.Logger

	connectMu sync.Mutex
	attempts  int
	closed    bool
	engine    connapi.Conn
}

// New returns a Conn targeting origin, not yet connected.
func New(origin message.Origin, opts Options) *Conn {
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Conn{origin: origin, opts: opts, log: log.Named("connection").With("origin", origin.String())}
}

var _ connapi.Conn = (*Conn)(nil)

func (c *Conn) Origin() message.Origin { return c.origin }

func (c *Conn) CanHandleRequest(origin message.Origin) bool { return c.origin.Equal(origin) }

func (c *Conn) IsAvailable() bool {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	if c.closed {
		return false
	}
	if c.engine == nil {
		return true
	}
	return c.engine.IsAvailable()
}

func (c *Conn) IsIdle() bool {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	if c.engine == nil {
		return !c.closed
	}
	return c.engine.IsIdle()
}

func (c *Conn) HasExpired() bool {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	if c.engine == nil {
		return false
	}
	return c.engine.HasExpired()
}

func (c *Conn) IsClosed() bool {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	if c.engine != nil {
		return c.engine.IsClosed()
	}
	return c.closed
}

func (c *Conn) Info() string {
	c.connectMu.Lock()
	eng := c.engine
	closed := c.closed
	c.connectMu.Unlock()
	if eng != nil {
		return eng.Info()
	}
	if closed {
		return "PENDING, CLOSED"
	}
	return "PENDING, not yet connected"
}

// Attempts reports the number of connect/handshake attempts consumed
// opening the transport, surfaced for trace/observability purposes.
func (c *Conn) Attempts() int {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.attempts
}

func (c *Conn) Close() error {
	c.connectMu.Lock()
	c.closed = true
	eng := c.engine
	c.connectMu.Unlock()
	if eng != nil {
		return eng.Close()
	}
	return nil
}

// HandleRequest opens the transport on first use (with retry-on-connect),
// then delegates to the negotiated engine.
func (c *Conn) HandleRequest(ctx context.Context, req *message.Request) (*message.Response, error) {
	if !c.origin.Equal(req.URL.Origin()) {
		return nil, errOriginMismatch.Errorf("connection: origin mismatch").Add(liberr.LocalProtocolError.Error())
	}

	eng, err := c.ensureEngine(ctx, req)
	if err != nil {
		return nil, err
	}
	return eng.HandleRequest(ctx, req)
}

func (c *Conn) ensureEngine(ctx context.Context, req *message.Request) (connapi.Conn, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.closed {
		return nil, liberr.ConnectionNotAvailable.Error()
	}
	if c.engine != nil {
		return c.engine, nil
	}

	eng, err := c.connectWithRetry(ctx, req)
	if err != nil {
		c.closed = true
		return nil, err
	}
	c.engine = eng
	return eng, nil
}

// connectWithRetry implements the exponential connect/handshake backoff:
// delays 0, 0.5s, 1s, 2s, 4s, ... Only ConnectError/ConnectTimeout are
// retried. Dial and TLS-handshake failures that the backend returns
// unclassified are wrapped as ConnectError (or ConnectTimeout) and so are
// retried; an error the backend already classified as another kind
// propagates immediately.
func (c *Conn) connectWithRetry(ctx context.Context, req *message.Request) (connapi.Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			d := backoffDelay(attempt)
			c.log.Debug("retrying connect", "attempt", attempt, "delay", d)
			if serr := c.opts.Backend.Sleep(ctx, d); serr != nil {
				return nil, serr
			}
		}

		c.attempts++
		eng, err := c.dialAndNegotiate(ctx, req)
		if err == nil {
			c.log.Debug("connected", "attempts", c.attempts)
			return eng, nil
		}
		lastErr = err
		if !liberr.Is(err, liberr.ConnectError) && !liberr.Is(err, liberr.ConnectTimeout) {
			c.log.Warn("connect failed, not retryable", "error", err)
			return nil, err
		}
		c.log.Warn("connect attempt failed", "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

// backoffDelay returns the retry delay before the given attempt number
// (1-indexed): 0, 0.5, 1, 2, 4, ... seconds. The first retry follows at
// once; from the second retry on the delay starts at 0.5s and doubles.
func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return time.Duration(500*(1<<uint(attempt-2))) * time.Millisecond
}

func (c *Conn) dialAndNegotiate(ctx context.Context, req *message.Request) (connapi.Conn, error) {
	req.Trace("connection.connect_tcp.started", map[string]interface{}{"origin": c.origin.String()})
	stream, err := c.dial(ctx, req)
	if err != nil {
		req.Trace("connection.connect_tcp.failed", map[string]interface{}{"error": err})
		return nil, err
	}
	req.Trace("connection.connect_tcp.complete", nil)

	negotiatedHTTP2 := false

	if c.needsTLS() {
		req.Trace("connection.start_tls.started", nil)
		tlsStream, terr := c.startTLS(ctx, stream, req)
		if terr != nil {
			req.Trace("connection.start_tls.failed", map[string]interface{}{"error": terr})
			_ = stream.Close()
			return nil, terr
		}
		stream = tlsStream
		if info, ok := stream.ExtraInfo(backend.ExtraInfoSSLObject); ok {
			if state, ok2 := info.(*tls.ConnectionState); ok2 {
				negotiatedHTTP2 = tlsconfig.NegotiatedHTTP2(state)
			}
		}
		req.Trace("connection.start_tls.complete", map[string]interface{}{"http2": negotiatedHTTP2})
	}

	if negotiatedHTTP2 && c.opts.HTTP2 {
		return http2.NewConn(c.origin, stream, c.opts.KeepAlive), nil
	}
	if c.opts.HTTP1 {
		return http1.NewConn(c.origin, stream, c.opts.KeepAlive), nil
	}
	if c.opts.HTTP2 {
		return http2.NewConn(c.origin, stream, c.opts.KeepAlive), nil
	}
	return nil, liberr.UnsupportedProtocol.Error()
}

func (c *Conn) needsTLS() bool {
	return c.opts.TLS != nil && (c.origin.Scheme == "https" || c.origin.Scheme == "wss")
}

func (c *Conn) dial(ctx context.Context, req *message.Request) (backend.Stream, error) {
	connectTimeout := durOf(req.Extensions.Timeout.Connect)
	if c.opts.UDSPath != "" {
		s, err := c.opts.Backend.ConnectUnix(ctx, c.opts.UDSPath, connectTimeout, c.opts.TCPOptions)
		if err != nil {
			return nil, classifyConnectErr(err)
		}
		return s, nil
	}
	s, err := c.opts.Backend.ConnectTCP(ctx, c.origin.Host, c.origin.Port, connectTimeout, c.opts.LocalAddr, c.opts.TCPOptions)
	if err != nil {
		return nil, classifyConnectErr(err)
	}
	return s, nil
}

func (c *Conn) startTLS(ctx context.Context, stream backend.Stream, req *message.Request) (backend.Stream, error) {
	alpnHTTP2 := c.opts.HTTP1 && c.opts.HTTP2
	cfg, err := c.opts.TLS.Build(alpnHTTP2)
	if err != nil {
		return nil, liberr.ConnectError.Error(err)
	}

	hostname := c.origin.Host
	if req.Extensions.SNIHostname != "" {
		hostname = req.Extensions.SNIHostname
	}

	out, err := stream.StartTLS(ctx, cfg, hostname, durOf(req.Extensions.Timeout.Connect))
	if err != nil {
		return nil, classifyConnectErr(err)
	}
	return out, nil
}

func durOf(d *duration.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.Time()
}

func classifyConnectErr(err error) error {
	// An error the backend already classified keeps its kind.
	if e, ok := err.(liberr.Error); ok {
		return e
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return liberr.ConnectTimeout.Error(err)
	}
	return liberr.ConnectError.Error(err)
}
