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

// Package httpcore wires the connection pool scheduler, the HTTP/1.1 and
// HTTP/2 engines, and the proxy adapters into the three client
// constructors a caller actually reaches for: Pool (direct connections),
// HTTPProxy (forwarding for http:// origins, CONNECT tunneling for
// https://) and SOCKSProxy. Everything below this file is internal
// wiring; these constructors and the message package are the public
// surface.
package httpcore

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sabouaram/httpcore/backend"
	"github.com/sabouaram/httpcore/connapi"
	"github.com/sabouaram/httpcore/connection"
	"github.com/sabouaram/httpcore/message"
	"github.com/sabouaram/httpcore/pool"
	"github.com/sabouaram/httpcore/proxy/forward"
	"github.com/sabouaram/httpcore/proxy/socks5"
	"github.com/sabouaram/httpcore/proxy/tunnel"
	"github.com/sabouaram/httpcore/tlsconfig"
)

// Options configures a Pool. Zero values pick the same defaults the
// original client documents: HTTP1 on, HTTP2 off, 10 max connections, no
// keepalive-count cap beyond MaxConnections, no retries.
type Options struct {
	TLS                     *tlsconfig.Config
	MaxConnections          int
	MaxKeepAliveConnections *int
	KeepAliveExpiry         time.Duration
	HTTP1                   bool
	HTTP2                   bool
	Retries                 int
	LocalAddr               string
	UDSPath                 string
	Backend                 backend.Backend
	TCPOptions              backend.TCPOptions
	Logger                  hclog.Logger
}

func (o Options) withDefaults() Options {
	out := o
	if out.MaxConnections <= 0 {
		out.MaxConnections = 10
	}
	if out.Backend == nil {
		out.Backend = backend.NewStdBackend()
	}
	if !out.HTTP1 && !out.HTTP2 {
		out.HTTP1 = true
	}
	if out.Logger == nil {
		out.Logger = hclog.NewNullLogger()
	}
	return out
}

func (o Options) connOptions() connection.Options {
	return connection.Options{
		Backend:    o.Backend,
		TLS:        o.TLS,
		HTTP1:      o.HTTP1,
		HTTP2:      o.HTTP2,
		LocalAddr:  o.LocalAddr,
		UDSPath:    o.UDSPath,
		TCPOptions: o.TCPOptions,
		KeepAlive:  o.KeepAliveExpiry,
		Retries:    o.Retries,
		Logger:     o.Logger,
	}
}

func (o Options) poolOptions() pool.Options {
	return pool.Options{
		MaxConnections:          o.MaxConnections,
		MaxKeepAliveConnections: o.MaxKeepAliveConnections,
		KeepAliveExpiry:         o.KeepAliveExpiry,
		Logger:                  o.Logger,
	}
}

// Pool multiplexes requests across a bounded set of direct, proxied or
// tunneled connections, picked by whichever constructor built it.
type Pool struct {
	inner *pool.Pool
}

// HandleRequest is the sole entry point: assign a connection, drive the
// protocol exchange, and return a Response whose body, once closed,
// returns the connection to the pool.
func (p *Pool) HandleRequest(ctx context.Context, req *message.Request) (*message.Response, error) {
	return p.inner.HandleRequest(ctx, req)
}

// Connections returns a snapshot of the pool's current connection list,
// for introspection (each entry's Info() matches connection.Conn.Info()).
func (p *Pool) Connections() []connapi.Conn { return p.inner.Connections() }

// Close closes every connection currently held by the pool.
func (p *Pool) Close() error { return p.inner.Close() }

// NewPool builds a Pool of direct connections: each distinct origin gets
// its own connection(s), opened straight to that origin.
func NewPool(opts Options) *Pool {
	o := opts.withDefaults()
	factory := func(origin message.Origin) connapi.Conn {
		return connection.New(origin, o.connOptions())
	}
	return &Pool{inner: pool.New(factory, o.poolOptions())}
}

// ProxyAuth is a username/password pair sent as Basic proxy
// authentication (HTTPProxy's CONNECT) or SOCKS5 user/password
// sub-negotiation (SOCKSProxy).
type ProxyAuth struct {
	Username string
	Password string
}

// HTTPProxyOptions configures an HTTPProxy: Options controls the
// connections it ultimately serves (the remote leg), the rest configures
// the hop to the proxy itself.
type HTTPProxyOptions struct {
	Options

	ProxyURL     message.URL
	ProxyAuth    *ProxyAuth
	ProxyHeaders message.Headers
	// ProxyTLS configures the hop to the proxy when ProxyURL's scheme is
	// https; nil means the proxy hop is plaintext.
	ProxyTLS *tlsconfig.Config
}

// NewHTTPProxy builds a Pool that forwards plaintext http:// requests
// (absolute-form, over a single shared connection to the proxy) and
// CONNECT-tunnels https:// requests (one tunneled connection per remote
// origin), per spec §4.5.
func NewHTTPProxy(opts HTTPProxyOptions) *Pool {
	o := opts.Options.withDefaults()
	proxyOrigin := opts.ProxyURL.Origin()

	factory := func(origin message.Origin) connapi.Conn {
		if origin.Scheme == "http" {
			proxyConnOpts := o.connOptions()
			proxyConnOpts.TLS = opts.ProxyTLS
			return forward.New(proxyOrigin, opts.ProxyHeaders, proxyConnOpts)
		}
		return tunnel.New(tunnel.Options{
			Remote:       origin,
			ProxyOrigin:  proxyOrigin,
			ProxyAuth:    basicAuthOf(opts.ProxyAuth),
			ProxyHeaders: opts.ProxyHeaders,
			ProxyTLS:     opts.ProxyTLS,
			RemoteTLS:    o.TLS,
			Backend:      o.Backend,
			LocalAddr:    o.LocalAddr,
			TCPOptions:   o.TCPOptions,
			HTTP1:        o.HTTP1,
			HTTP2:        o.HTTP2,
			KeepAlive:    o.KeepAliveExpiry,
			Logger:       o.Logger,
		})
	}
	return &Pool{inner: pool.New(factory, o.poolOptions())}
}

func basicAuthOf(a *ProxyAuth) *tunnel.BasicAuth {
	if a == nil {
		return nil
	}
	return &tunnel.BasicAuth{Username: a.Username, Password: a.Password}
}

// SOCKSProxyOptions configures a SOCKSProxy.
type SOCKSProxyOptions struct {
	Options

	ProxyURL  message.URL
	ProxyAuth *ProxyAuth
}

// NewSOCKSProxy builds a Pool that performs a SOCKS5 handshake (RFC 1928 +
// RFC 1929) to ProxyURL before each new remote-origin connection.
func NewSOCKSProxy(opts SOCKSProxyOptions) *Pool {
	o := opts.Options.withDefaults()
	proxyOrigin := opts.ProxyURL.Origin()

	factory := func(origin message.Origin) connapi.Conn {
		return socks5.New(socks5.Options{
			Remote:      origin,
			ProxyOrigin: proxyOrigin,
			Auth:        socksAuthOf(opts.ProxyAuth),
			RemoteTLS:   o.TLS,
			Backend:     o.Backend,
			LocalAddr:   o.LocalAddr,
			TCPOptions:  o.TCPOptions,
			HTTP1:       o.HTTP1,
			HTTP2:       o.HTTP2,
			KeepAlive:   o.KeepAliveExpiry,
			Logger:      o.Logger,
		})
	}
	return &Pool{inner: pool.New(factory, o.poolOptions())}
}

func socksAuthOf(a *ProxyAuth) *socks5.Auth {
	if a == nil {
		return nil
	}
	return &socks5.Auth{Username: a.Username, Password: a.Password}
}
