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

// Package backend defines the network backend interface the core consumes
// connect_tcp / connect_unix / sleep, and a Stream with
// read/write/close/start_tls/extra_info. The core is agnostic to which
// implementation is plugged in; StdBackend is the one real implementation
// (blocking net.Dial-based), and internal/fakebackend provides a scripted
// one for deterministic sans-I/O unit tests.
package backend

import (
	"context"
	"crypto/tls"
	"time"
)

// TCPOptions carries best-effort socket hints applied to a dialed
// connection.
type TCPOptions struct {
	KeepAlive time.Duration
	NoDelay   bool
}

// ExtraInfoKey enumerates the well-known extra_info keys.
type ExtraInfoKey string

const (
	ExtraInfoSSLObject  ExtraInfoKey = "ssl_object"
	ExtraInfoClientAddr ExtraInfoKey = "client_addr"
	ExtraInfoServerAddr ExtraInfoKey = "server_addr"
	ExtraInfoSocket     ExtraInfoKey = "socket"
	ExtraInfoIsReadable ExtraInfoKey = "is_readable"
)

// Stream is a single byte-oriented transport connection.
type Stream interface {
	// Read returns up to len(p) bytes, honoring timeout if non-zero.
	Read(p []byte, timeout time.Duration) (int, error)
	// Write writes all of p, honoring timeout if non-zero.
	Write(p []byte, timeout time.Duration) error
	Close() error
	// StartTLS upgrades the stream in place and returns a Stream
	// layered with TLS; serverHostname drives both SNI and (unless the
	// config disables it) certificate verification.
	StartTLS(ctx context.Context, cfg *tls.Config, serverHostname string, timeout time.Duration) (Stream, error)
	// ExtraInfo exposes backend-specific details; unsupported keys
	// return (nil, false).
	ExtraInfo(key ExtraInfoKey) (interface{}, bool)
}

// Backend opens transport connections and provides backoff sleeps.
type Backend interface {
	ConnectTCP(ctx context.Context, host string, port int, timeout time.Duration, localAddr string, opts TCPOptions) (Stream, error)
	ConnectUnix(ctx context.Context, path string, timeout time.Duration, opts TCPOptions) (Stream, error)
	Sleep(ctx context.Context, d time.Duration) error
}
