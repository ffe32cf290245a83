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

// Package tunnel implements the CONNECT-tunneling proxy adapter: on first
// use it opens a transport to the proxy, issues a CONNECT for the remote
// origin, and on success performs a TLS handshake (or not, for plaintext
// remotes reached only to reuse the proxy's routing) directly against the
// raw post-CONNECT transport, replacing itself with an ordinary HTTP/1.1
// or HTTP/2 engine over that transport. Every request after the first
// goes straight to that engine.
package tunnel

import (
	"context"
	"crypto/tls"
	"encoding/base64"
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

// BasicAuth is the username/password pair sent as a Proxy-Authorization
// Basic header when negotiating the CONNECT.
type BasicAuth struct {
	Username string
	Password string
}

func (a *BasicAuth) header() message.Header {
	raw := []byte(a.Username + ":" + a.Password)
	return message.Header{Name: "Proxy-Authorization", Value: "Basic " + base64.StdEncoding.EncodeToString(raw)}
}

// Options configures a tunneling proxy Conn.
type Options struct {
	Remote       message.Origin
	ProxyOrigin  message.Origin
	ProxyAuth    *BasicAuth
	ProxyHeaders message.Headers
	ProxyTLS     *tlsconfig.Config // non-nil if the hop to the proxy itself is TLS
	RemoteTLS    *tlsconfig.Config // non-nil if the tunneled remote is https/wss

	Backend    backend.Backend
	LocalAddr  string
	TCPOptions backend.TCPOptions
	HTTP1      bool
	HTTP2      bool
	KeepAlive  time.Duration
	Logger     hclog.Logger
}

func init() {
	liberr.RegisterFctMessage(liberr.MinPkgProxy, messageFor)
}

const (
	errBadConnectStatus liberr.CodeError = liberr.MinPkgProxy + iota
)

func messageFor(code liberr.CodeError) string {
	switch code {
	case errBadConnectStatus:
		return "tunnel: CONNECT rejected by proxy"
	}
	return ""
}

// Conn is a connapi.Conn that defers its CONNECT handshake until first
// use, after which it behaves like a direct connection to Remote.
type Conn struct {
	opts Options
	log  hclog.Logger

	mu     sync.Mutex
	closed bool
	engine connapi.Conn
}

// New returns a Conn targeting opts.Remote through opts.ProxyOrigin, not
// yet connected.
func New(opts Options) *Conn {
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Conn{opts: opts, log: log.Named("tunnel").With("remote", opts.Remote.String())}
}

var _ connapi.Conn = (*Conn)(nil)

func (c *Conn) Origin() message.Origin { return c.opts.Remote }

// CanHandleRequest equals exact remote-origin match: only the tunnel built
// for this origin may serve it.
func (c *Conn) CanHandleRequest(origin message.Origin) bool { return c.opts.Remote.Equal(origin) }

func (c *Conn) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.engine == nil {
		return true
	}
	return c.engine.IsAvailable()
}

func (c *Conn) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return !c.closed
	}
	return c.engine.IsIdle()
}

func (c *Conn) HasExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return false
	}
	return c.engine.HasExpired()
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		return c.engine.IsClosed()
	}
	return c.closed
}

func (c *Conn) Info() string {
	c.mu.Lock()
	eng := c.engine
	closed := c.closed
	c.mu.Unlock()
	if eng != nil {
		return "Tunneled " + eng.Info()
	}
	if closed {
		return "Tunnel Proxy, CLOSED"
	}
	return "Tunnel Proxy, not yet connected"
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	eng := c.engine
	c.mu.Unlock()
	if eng != nil {
		return eng.Close()
	}
	return nil
}

func (c *Conn) HandleRequest(ctx context.Context, req *message.Request) (*message.Response, error) {
	eng, err := c.ensureTunnel(ctx, req)
	if err != nil {
		return nil, err
	}
	return eng.HandleRequest(ctx, req)
}

func (c *Conn) ensureTunnel(ctx context.Context, req *message.Request) (connapi.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, liberr.ConnectionNotAvailable.Error()
	}
	if c.engine != nil {
		return c.engine, nil
	}

	eng, err := c.connect(ctx, req)
	if err != nil {
		c.closed = true
		return nil, err
	}
	c.engine = eng
	return eng, nil
}

func (c *Conn) connect(ctx context.Context, req *message.Request) (connapi.Conn, error) {
	connectTimeout := durOf(req.Extensions.Timeout.Connect)

	stream, err := c.dialProxy(ctx, connectTimeout)
	if err != nil {
		return nil, err
	}

	leftover, err := c.issueConnect(ctx, stream, req, connectTimeout)
	if err != nil {
		_ = stream.Close()
		return nil, err
	}

	var remoteStream backend.Stream = wrapLeftover(stream, leftover)
	negotiatedHTTP2 := false

	if c.opts.RemoteTLS != nil {
		alpnHTTP2 := c.opts.HTTP1 && c.opts.HTTP2
		cfg, cerr := c.opts.RemoteTLS.Build(alpnHTTP2)
		if cerr != nil {
			return nil, liberr.ConnectError.Error(cerr)
		}
		hostname := c.opts.Remote.Host
		if req.Extensions.SNIHostname != "" {
			hostname = req.Extensions.SNIHostname
		}
		tlsStream, terr := stream.StartTLS(ctx, cfg, hostname, connectTimeout)
		if terr != nil {
			_ = stream.Close()
			return nil, liberr.ConnectError.Error(terr)
		}
		remoteStream = tlsStream
		if info, ok := remoteStream.ExtraInfo(backend.ExtraInfoSSLObject); ok {
			if state, ok2 := info.(*tls.ConnectionState); ok2 {
				negotiatedHTTP2 = tlsconfig.NegotiatedHTTP2(state)
			}
		}
	}

	if negotiatedHTTP2 && c.opts.HTTP2 {
		return http2.NewConn(c.opts.Remote, remoteStream, c.opts.KeepAlive), nil
	}
	if c.opts.HTTP1 {
		return http1.NewConn(c.opts.Remote, remoteStream, c.opts.KeepAlive), nil
	}
	if c.opts.HTTP2 {
		return http2.NewConn(c.opts.Remote, remoteStream, c.opts.KeepAlive), nil
	}
	return nil, liberr.UnsupportedProtocol.Error()
}

func (c *Conn) dialProxy(ctx context.Context, timeout time.Duration) (backend.Stream, error) {
	stream, err := c.opts.Backend.ConnectTCP(ctx, c.opts.ProxyOrigin.Host, c.opts.ProxyOrigin.Port, timeout, c.opts.LocalAddr, c.opts.TCPOptions)
	if err != nil {
		return nil, classifyConnectErr(err)
	}

	if c.opts.ProxyTLS == nil {
		return stream, nil
	}

	cfg, cerr := c.opts.ProxyTLS.Build(false)
	if cerr != nil {
		_ = stream.Close()
		return nil, liberr.ConnectError.Error(cerr)
	}
	tlsStream, terr := stream.StartTLS(ctx, cfg, c.opts.ProxyOrigin.Host, timeout)
	if terr != nil {
		_ = stream.Close()
		return nil, classifyConnectErr(terr)
	}
	return tlsStream, nil
}

// issueConnect writes "CONNECT host:port HTTP/1.1" and waits for the
// proxy's response, using the same sans-I/O request serializer and
// response parser as ordinary HTTP/1.1 connections so the CONNECT
// exchange is driven by the identical bytes-in/events-out engine.
func (c *Conn) issueConnect(ctx context.Context, stream backend.Stream, req *message.Request, timeout time.Duration) ([]byte, error) {
	headers := message.Headers{
		{Name: "Host", Value: c.opts.Remote.HostHeader()},
		{Name: "Accept", Value: "*/*"},
	}
	if c.opts.ProxyAuth != nil {
		headers = headers.Set(c.opts.ProxyAuth.header().Name, c.opts.ProxyAuth.header().Value)
	}
	for _, kv := range c.opts.ProxyHeaders {
		if !headers.Has(kv.Name) {
			headers = headers.Set(kv.Name, kv.Value)
		}
	}

	connectReq := &message.Request{
		Method:  "CONNECT",
		URL:     message.URL{Scheme: c.opts.ProxyOrigin.Scheme, Host: c.opts.ProxyOrigin.Host, Target: c.opts.Remote.HostHeader()},
		Headers: headers,
	}

	if err := stream.Write(http1.BuildRequestHead(connectReq), timeout); err != nil {
		return nil, liberr.WriteError.Error(err)
	}

	parser := http1.NewResponseParser()
	status, reason, err := readConnectResponse(stream, parser, timeout)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, errBadConnectStatus.Errorf("%d %s", status, reason).Add(liberr.ProxyError.Error())
	}
	return parser.Leftover(), nil
}

func readConnectResponse(stream backend.Stream, parser *http1.ResponseParser, timeout time.Duration) (int, string, error) {
	for {
		ev, err := parser.NextEvent()
		if err != nil {
			return 0, "", liberr.RemoteProtocolError.Errorf("%v", err)
		}
		switch ev.Kind {
		case http1.NeedData:
			buf := make([]byte, 4096)
			n, rerr := stream.Read(buf, timeout)
			if n > 0 {
				parser.Feed(buf[:n])
			}
			if rerr != nil {
				return 0, "", liberr.ReadError.Error(rerr)
			}
		case http1.EventInformationalResponse:
			continue
		case http1.EventResponse:
			return ev.StatusCode, ev.ReasonPhrase, nil
		case http1.EventConnectionClosed:
			return 0, "", liberr.ServerDisconnectedError.Error()
		default:
			return 0, "", liberr.RemoteProtocolError.Errorf("tunnel: unexpected event reading CONNECT response")
		}
	}
}

func durOf(d *duration.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.Time()
}

func classifyConnectErr(err error) error {
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return liberr.ConnectTimeout.Error(err)
	}
	return liberr.ConnectError.Error(err)
}

// leftoverStream prepends bytes the CONNECT response parser had already
// buffered past the status line/headers to the first Read call, so no
// plaintext-tunneled bytes are lost between the CONNECT exchange and the
// engine that takes over the transport.
type leftoverStream struct {
	backend.Stream
	buf []byte
}

func wrapLeftover(s backend.Stream, leftover []byte) backend.Stream {
	if len(leftover) == 0 {
		return s
	}
	return &leftoverStream{Stream: s, buf: leftover}
}

func (l *leftoverStream) Read(p []byte, timeout time.Duration) (int, error) {
	if len(l.buf) > 0 {
		n := copy(p, l.buf)
		l.buf = l.buf[n:]
		return n, nil
	}
	return l.Stream.Read(p, timeout)
}
