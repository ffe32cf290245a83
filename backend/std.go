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

package backend

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// StdBackend is the blocking, OS-thread backend built on the standard
// library's net package.
// cooperative-async) may exist"; this is the blocking one).
type StdBackend struct{}

// NewStdBackend returns the default blocking backend.
func NewStdBackend() *StdBackend { return &StdBackend{} }

func (b *StdBackend) ConnectTCP(ctx context.Context, host string, port int, timeout time.Duration, localAddr string, opts TCPOptions) (Stream, error) {
	d := &net.Dialer{}
	if timeout > 0 {
		d.Timeout = timeout
	}
	if opts.KeepAlive > 0 {
		d.KeepAlive = opts.KeepAlive
	}
	if localAddr != "" {
		if tcpAddr, err := net.ResolveTCPAddr("tcp", localAddr); err == nil {
			d.LocalAddr = tcpAddr
		}
	}

	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok && opts.NoDelay {
		_ = tc.SetNoDelay(true)
	}
	return newNetStream(conn), nil
}

func (b *StdBackend) ConnectUnix(ctx context.Context, path string, timeout time.Duration, opts TCPOptions) (Stream, error) {
	d := &net.Dialer{}
	if timeout > 0 {
		d.Timeout = timeout
	}
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return newNetStream(conn), nil
}

func (b *StdBackend) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// netStream adapts a net.Conn to the Stream interface. Reads go through a
// bufio.Reader so that is_readable (below) can Peek without consuming
// bytes the protocol engine still needs to parse.
type netStream struct {
	conn net.Conn
	buf  *bufio.Reader
}

func newNetStream(conn net.Conn) *netStream {
	return &netStream{conn: conn, buf: bufio.NewReader(conn)}
}

func (s *netStream) Read(p []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
		defer s.conn.SetReadDeadline(time.Time{})
	}
	return s.buf.Read(p)
}

func (s *netStream) Write(p []byte, timeout time.Duration) error {
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	_, err := s.conn.Write(p)
	return err
}

func (s *netStream) Close() error { return s.conn.Close() }

func (s *netStream) StartTLS(ctx context.Context, cfg *tls.Config, serverHostname string, timeout time.Duration) (Stream, error) {
	c := cfg.Clone()
	if c == nil {
		c = &tls.Config{}
	}
	if c.ServerName == "" {
		c.ServerName = serverHostname
	}

	tlsConn := tls.Client(s.conn, c)

	if timeout > 0 {
		_ = tlsConn.SetDeadline(time.Now().Add(timeout))
		defer tlsConn.SetDeadline(time.Time{})
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return newNetStream(tlsConn), nil
}

func (s *netStream) ExtraInfo(key ExtraInfoKey) (interface{}, bool) {
	switch key {
	case ExtraInfoSocket:
		return s.conn, true
	case ExtraInfoClientAddr:
		return s.conn.LocalAddr(), true
	case ExtraInfoServerAddr:
		return s.conn.RemoteAddr(), true
	case ExtraInfoSSLObject:
		if tc, ok := s.conn.(*tls.Conn); ok {
			st := tc.ConnectionState()
			return &st, true
		}
		return nil, false
	case ExtraInfoIsReadable:
		return s.isReadable(), true
	}
	return nil, false
}

// isReadable peeks at the socket, through the bufio.Reader so no bytes are
// actually consumed, with a short read deadline to detect whether the peer
// has sent bytes (or closed) while we believe the connection is idle — the
// signal the HTTP/1.1 engine uses to distinguish a genuinely idle
// keep-alive socket from one the server already closed.
func (s *netStream) isReadable() bool {
	_ = s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer s.conn.SetReadDeadline(time.Time{})

	_, err := s.buf.Peek(1)
	if err == nil {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false
	}
	// Any other error (EOF, reset) means the peer is gone: readable-idle.
	return true
}
