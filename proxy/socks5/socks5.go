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

// Package socks5 implements the client side of a SOCKS5 handshake (RFC
// 1928, username/password sub-negotiation per RFC 1929) ahead of an
// ordinary HTTP connection: once the handshake succeeds, the same raw TCP
// stream is handed to an HTTP/1.1 or HTTP/2 engine targeting the remote
// origin, exactly like proxy/tunnel does after a CONNECT.
package socks5

import (
	"context"
	"crypto/tls"
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
	liberr.RegisterFctMessage(liberr.MinPkgSocks5, messageFor)
}

const (
	errNoAcceptableMethod liberr.CodeError = liberr.MinPkgSocks5 + iota
	errAuthFailed
	errCommandFailed
)

func messageFor(code liberr.CodeError) string {
	switch code {
	case errNoAcceptableMethod:
		return "socks5: proxy selected an unoffered/unsupported auth method"
	case errAuthFailed:
		return "socks5: invalid username/password"
	case errCommandFailed:
		return "socks5: CONNECT command rejected"
	}
	return ""
}

const (
	version5        = 0x05
	methodNoAuth    = 0x00
	methodUserPass  = 0x02
	methodNoneOK    = 0xFF
	cmdConnect      = 0x01
	addrTypeDomain  = 0x03
	addrTypeIPv4    = 0x01
	addrTypeIPv6    = 0x04
	userPassVersion = 0x01
	replySucceeded  = 0x00
)

var replyReasons = map[byte]string{
	0x00: "succeeded",
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

// Auth carries SOCKS5 username/password sub-negotiation credentials.
type Auth struct {
	Username string
	Password string
}

// Options configures a SOCKS5 proxy Conn.
type Options struct {
	Remote      message.Origin
	ProxyOrigin message.Origin
	Auth        *Auth
	RemoteTLS   *tlsconfig.Config

	Backend    backend.Backend
	LocalAddr  string
	TCPOptions backend.TCPOptions
	HTTP1      bool
	HTTP2      bool
	KeepAlive  time.Duration
	Logger     hclog.Logger
}

// Conn is a connapi.Conn that performs the SOCKS5 handshake lazily, on
// first use, then delegates to the negotiated HTTP engine.
type Conn struct {
	opts Options
	log  hclog.Logger

	mu     sync.Mutex
	closed bool
	engine connapi.Conn
}

// New returns a Conn targeting opts.Remote through a SOCKS5 proxy at
// opts.ProxyOrigin, not yet connected.
func New(opts Options) *Conn {
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Conn{opts: opts, log: log.Named("socks5").With("remote", opts.Remote.String())}
}

var _ connapi.Conn = (*Conn)(nil)

func (c *Conn) Origin() message.Origin { return c.opts.Remote }

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
		return "SOCKS5 " + eng.Info()
	}
	if closed {
		return "SOCKS5 Proxy, CLOSED"
	}
	return "SOCKS5 Proxy, not yet connected"
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
	eng, err := c.ensureConnected(ctx, req)
	if err != nil {
		return nil, err
	}
	return eng.HandleRequest(ctx, req)
}

func (c *Conn) ensureConnected(ctx context.Context, req *message.Request) (connapi.Conn, error) {
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

	stream, err := c.opts.Backend.ConnectTCP(ctx, c.opts.ProxyOrigin.Host, c.opts.ProxyOrigin.Port, connectTimeout, c.opts.LocalAddr, c.opts.TCPOptions)
	if err != nil {
		return nil, classifyConnectErr(err)
	}

	if err := c.handshake(stream, connectTimeout); err != nil {
		_ = stream.Close()
		return nil, err
	}

	var remoteStream backend.Stream = stream
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

// handshake runs the RFC 1928 method negotiation, the RFC 1929
// username/password sub-negotiation if selected, and the CONNECT command
// for c.opts.Remote.
func (c *Conn) handshake(stream backend.Stream, timeout time.Duration) error {
	offered := []byte{methodNoAuth}
	if c.opts.Auth != nil {
		offered = append(offered, methodUserPass)
	}

	greeting := append([]byte{version5, byte(len(offered))}, offered...)
	if err := stream.Write(greeting, timeout); err != nil {
		return liberr.WriteError.Error(err)
	}

	reply := make([]byte, 2)
	if err := readFull(stream, reply, timeout); err != nil {
		return err
	}
	if reply[0] != version5 {
		return errNoAcceptableMethod.Errorf("socks5: unexpected version %d in method reply", reply[0]).Add(liberr.ProxyError.Error())
	}

	selected := reply[1]
	offeredSelected := false
	for _, m := range offered {
		if m == selected {
			offeredSelected = true
			break
		}
	}
	if selected == methodNoneOK || !offeredSelected {
		return errNoAcceptableMethod.Error().Add(liberr.ProxyError.Error())
	}

	if selected == methodUserPass {
		if c.opts.Auth == nil {
			return errNoAcceptableMethod.Errorf("socks5: proxy requires credentials but none configured").Add(liberr.ProxyError.Error())
		}
		if err := c.authenticate(stream, timeout); err != nil {
			return err
		}
	}

	return c.requestConnect(stream, timeout)
}

func (c *Conn) authenticate(stream backend.Stream, timeout time.Duration) error {
	u := []byte(c.opts.Auth.Username)
	p := []byte(c.opts.Auth.Password)

	req := make([]byte, 0, 3+len(u)+len(p))
	req = append(req, userPassVersion, byte(len(u)))
	req = append(req, u...)
	req = append(req, byte(len(p)))
	req = append(req, p...)

	if err := stream.Write(req, timeout); err != nil {
		return liberr.WriteError.Error(err)
	}

	reply := make([]byte, 2)
	if err := readFull(stream, reply, timeout); err != nil {
		return err
	}
	if reply[1] != 0x00 {
		return errAuthFailed.Errorf("socks5: invalid username/password").Add(liberr.ProxyError.Error())
	}
	return nil
}

func (c *Conn) requestConnect(stream backend.Stream, timeout time.Duration) error {
	host := c.opts.Remote.Host
	port := c.opts.Remote.Port

	req := []byte{version5, cmdConnect, 0x00, addrTypeDomain, byte(len(host))}
	req = append(req, []byte(host)...)
	req = append(req, byte(port>>8), byte(port))

	if err := stream.Write(req, timeout); err != nil {
		return liberr.WriteError.Error(err)
	}

	head := make([]byte, 4)
	if err := readFull(stream, head, timeout); err != nil {
		return err
	}
	if head[0] != version5 {
		return errCommandFailed.Errorf("socks5: unexpected version %d in CONNECT reply", head[0]).Add(liberr.ProxyError.Error())
	}
	if head[1] != replySucceeded {
		reason, ok := replyReasons[head[1]]
		if !ok {
			reason = "unknown reply code"
		}
		return errCommandFailed.Errorf("%s", reason).Add(liberr.ProxyError.Error())
	}

	// Drain the bound-address portion of the reply (we don't use it).
	switch head[3] {
	case addrTypeIPv4:
		return drain(stream, 4+2, timeout)
	case addrTypeIPv6:
		return drain(stream, 16+2, timeout)
	case addrTypeDomain:
		lenBuf := make([]byte, 1)
		if err := readFull(stream, lenBuf, timeout); err != nil {
			return err
		}
		return drain(stream, int(lenBuf[0])+2, timeout)
	}
	return errCommandFailed.Errorf("socks5: unsupported bound address type %d", head[3]).Add(liberr.ProxyError.Error())
}

func drain(stream backend.Stream, n int, timeout time.Duration) error {
	if n <= 0 {
		return nil
	}
	return readFull(stream, make([]byte, n), timeout)
}

func readFull(stream backend.Stream, buf []byte, timeout time.Duration) error {
	read := 0
	for read < len(buf) {
		n, err := stream.Read(buf[read:], timeout)
		read += n
		if err != nil {
			return liberr.ReadError.Error(err)
		}
		if n == 0 {
			return liberr.ServerDisconnectedError.Error()
		}
	}
	return nil
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
