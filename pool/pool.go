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

// Package pool is the connection pool scheduler: it matches queued
// requests to reused, newly-opened, or idle-evicted-then-new connections
// under a single critical section, and leaves actual connection closing
// to happen outside that section. The scheduler is agnostic to what kind
// of connapi.Conn it creates; the caller supplies a Factory, which is how
// proxy/forward, proxy/tunnel and proxy/socks5 plug into the exact same
// scheduling logic as direct HTTP/1.1 and HTTP/2 connections.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sabouaram/httpcore/connapi"
	"github.com/sabouaram/httpcore/duration"
	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/message"
	"github.com/sabouaram/httpcore/syncx"
)

func init() {
	liberr.RegisterFctMessage(liberr.MinPkgPool, messageFor)
}

const (
	errUnsupportedScheme liberr.CodeError = liberr.MinPkgPool + iota
)

func messageFor(code liberr.CodeError) string {
	switch code {
	case errUnsupportedScheme:
		return "pool: unsupported URL scheme"
	}
	return ""
}

var supportedSchemes = map[string]bool{"http": true, "https": true, "ws": true, "wss": true}

// Factory opens a new connapi.Conn targeting origin. The connection is
// returned in a pending/not-yet-connected state; the handshake happens
// lazily inside the connection's own HandleRequest.
type Factory func(origin message.Origin) connapi.Conn

// Options configures a Pool's admission control.
type Options struct {
	MaxConnections int
	// MaxKeepAliveConnections, nil means "no extra limit beyond
	// MaxConnections"; a pointer to 0 means "never retain a connection
	// after it goes idle", matching the spec's None-vs-0 distinction.
	MaxKeepAliveConnections *int
	KeepAliveExpiry         time.Duration
	Logger                  hclog.Logger
}

func (o Options) maxKeepAlive() int {
	if o.MaxKeepAliveConnections == nil {
		return o.MaxConnections
	}
	return *o.MaxKeepAliveConnections
}

// Pool is the scheduler described in §4.1: a FIFO request queue, an
// ordered connection list, and a single lock guarding both. Closing
// connections always happens after releasing that lock.
type Pool struct {
	mu       sync.Mutex
	opts     Options
	factory  Factory
	conns    []connapi.Conn
	requests []*poolRequest
	closed   bool
	log      hclog.Logger
}

// New builds a Pool that opens connections via factory.
func New(factory Factory, opts Options) *Pool {
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Pool{factory: factory, opts: opts, log: log.Named("pool")}
}

// poolRequest is the PoolRequest of §3: created on entry, destroyed when
// the response body closes or the request fails. assigned and acquired
// are mutated only under Pool.mu.
type poolRequest struct {
	req      *message.Request
	origin   message.Origin
	assigned connapi.Conn
	acquired *syncx.Event
}

// HandleRequest is the pool's public entry point (spec §4.1 request
// lifecycle, steps 1-5).
func (p *Pool) HandleRequest(ctx context.Context, req *message.Request) (*message.Response, error) {
	if !supportedSchemes[req.URL.Scheme] {
		return nil, errUnsupportedScheme.Errorf("pool: unsupported scheme %q", req.URL.Scheme).Add(liberr.UnsupportedProtocol.Error())
	}

	reqID := req.AssignID()
	pr := &poolRequest{req: req, origin: req.URL.Origin(), acquired: syncx.NewEvent()}
	p.enqueue(pr)
	p.log.Debug("request enqueued", "request_id", reqID, "origin", pr.origin.String())

	for {
		p.closeConns(p.assign())

		if err := p.waitForAssignment(ctx, pr); err != nil {
			p.removeAndReassign(pr)
			return nil, err
		}

		conn := p.assignedConn(pr)
		resp, err := conn.HandleRequest(ctx, req)
		if err != nil {
			if liberr.Is(err, liberr.ConnectionNotAvailable) {
				p.requeue(pr)
				continue
			}
			p.removeAndReassign(pr)
			return nil, err
		}

		resp.Stream = p.wrapResponseBody(pr, resp.Stream)
		return resp, nil
	}
}

// waitForAssignment blocks on pr.acquired, honoring extensions.timeout.pool.
// A cancelled parent ctx runs cleanup under a cancellation shield before
// propagating, per §5.
func (p *Pool) waitForAssignment(ctx context.Context, pr *poolRequest) error {
	if pr.acquired.IsSet() {
		return nil
	}

	poolTimeout := durOf(pr.req.Extensions.Timeout.Pool)
	waitCtx := ctx
	if poolTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, poolTimeout)
		defer cancel()
	} else if poolTimeout == 0 && pr.req.Extensions.Timeout.Pool != nil {
		// timeout.pool == 0: succeed only if already assigned, else fail
		// immediately without blocking.
		return liberr.PoolTimeout.Error()
	}

	if err := pr.acquired.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			syncx.Shield(func() {
				p.log.Debug("request cancelled while waiting for a connection", "request_id", pr.req.ID)
			})
			return ctx.Err()
		}
		return liberr.PoolTimeout.Error(err)
	}
	return nil
}

func (p *Pool) assignedConn(pr *poolRequest) connapi.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pr.assigned
}

// requeue clears a stale assignment (the HTTP/2 race where the connection
// went unavailable between assignment and use) and gives the request a
// fresh event, then re-runs assignment.
func (p *Pool) requeue(pr *poolRequest) {
	p.mu.Lock()
	pr.assigned = nil
	pr.acquired = syncx.NewEvent()
	p.mu.Unlock()
	p.closeConns(p.assign())
}

func (p *Pool) removeAndReassign(pr *poolRequest) {
	p.removeRequest(pr)
	p.closeConns(p.assign())
}

func (p *Pool) enqueue(pr *poolRequest) {
	p.mu.Lock()
	p.requests = append(p.requests, pr)
	p.mu.Unlock()
}

func (p *Pool) removeRequest(pr *poolRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.requests {
		if r == pr {
			p.requests = append(p.requests[:i], p.requests[i+1:]...)
			break
		}
	}
}

// assign runs the cleanup and matching phases under a single critical
// section and returns the connections that should be closed outside it.
func (p *Pool) assign() []connapi.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	var closing []connapi.Conn

	// Cleanup phase: drop closed/expired connections, then trim surplus
	// idle ones down to MaxKeepAliveConnections.
	kept := make([]connapi.Conn, 0, len(p.conns))
	for _, c := range p.conns {
		switch {
		case c.IsClosed():
			closing = append(closing, c)
		case c.HasExpired():
			closing = append(closing, c)
		default:
			kept = append(kept, c)
		}
	}
	p.conns = kept

	if maxIdle := p.opts.maxKeepAlive(); maxIdle >= 0 {
		idle := make([]int, 0, len(p.conns))
		for i, c := range p.conns {
			if c.IsIdle() {
				idle = append(idle, i)
			}
		}
		if len(idle) > maxIdle {
			evict := make(map[int]bool, len(idle)-maxIdle)
			for _, i := range idle[:len(idle)-maxIdle] {
				evict[i] = true
			}
			next := make([]connapi.Conn, 0, len(p.conns))
			for i, c := range p.conns {
				if evict[i] {
					closing = append(closing, c)
				} else {
					next = append(next, c)
				}
			}
			p.conns = next
		}
	}

	// Matching phase, FIFO order.
	for _, pr := range p.requests {
		if pr.assigned != nil {
			continue
		}

		if c := p.firstAvailable(pr.origin); c != nil {
			pr.assigned = c
			pr.acquired.Set()
			continue
		}

		if len(p.conns) < p.opts.MaxConnections {
			c := p.factory(pr.origin)
			p.conns = append(p.conns, c)
			pr.assigned = c
			pr.acquired.Set()
			continue
		}

		if idx := p.firstIdleIndex(); idx >= 0 {
			closing = append(closing, p.conns[idx])
			p.conns = append(p.conns[:idx], p.conns[idx+1:]...)
			c := p.factory(pr.origin)
			p.conns = append(p.conns, c)
			pr.assigned = c
			pr.acquired.Set()
			continue
		}
		// else: leave unassigned, the request waits on its event.
	}

	return closing
}

func (p *Pool) firstAvailable(origin message.Origin) connapi.Conn {
	for _, c := range p.conns {
		if c.CanHandleRequest(origin) && c.IsAvailable() {
			return c
		}
	}
	return nil
}

func (p *Pool) firstIdleIndex() int {
	for i, c := range p.conns {
		if c.IsIdle() {
			return i
		}
	}
	return -1
}

// closeConns closes connections outside the pool lock, per the invariant
// that network work never happens inside the critical section.
func (p *Pool) closeConns(conns []connapi.Conn) {
	for _, c := range conns {
		if err := c.Close(); err != nil {
			p.log.Debug("error closing connection", "error", err)
		}
	}
}

// Connections returns a snapshot of the pool's current connection list.
func (p *Pool) Connections() []connapi.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]connapi.Conn, len(p.conns))
	copy(out, p.conns)
	return out
}

// Close closes every connection in the pool. Any response body still in
// flight will surface a ReadError on its next read once its underlying
// stream closes.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func durOf(d *duration.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.Time()
}
