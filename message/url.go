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

// Package message holds the immutable wire-level data model shared by the
// pool, the protocol engines and the proxy adapters: URL/Origin, Request,
// Response and the lazy ByteStream body abstraction.
package message

import (
	"fmt"
)

// defaultPorts maps a URL scheme to its default effective port.
var defaultPorts = map[string]int{
	"http":   80,
	"https":  443,
	"ws":     80,
	"wss":    443,
	"socks5": 1080,
}

// URL is the parsed request target. Scheme and Host are kept as byte
// strings because the original protocol accepts raw bytes for both;
// ASCII-only string literals are accepted as-is.
type URL struct {
	Scheme string
	Host   string
	Port   *int // nil means "use the scheme default"
	Target string
}

// EffectivePort resolves Port, defaulting by scheme when unset.
func (u URL) EffectivePort() int {
	if u.Port != nil {
		return *u.Port
	}
	if p, ok := defaultPorts[u.Scheme]; ok {
		return p
	}
	return 0
}

// Origin returns the (scheme, host, effective_port) triple identifying the
// server endpoint this URL targets.
func (u URL) Origin() Origin {
	return Origin{Scheme: u.Scheme, Host: u.Host, Port: u.EffectivePort()}
}

// Equal reports whether two URLs are identical across all four components,
// comparing the effective (not necessarily literal) port.
func (u URL) Equal(o URL) bool {
	return u.Scheme == o.Scheme &&
		u.Host == o.Host &&
		u.EffectivePort() == o.EffectivePort() &&
		u.Target == o.Target
}

// String renders scheme://host[:port]target, suppressing the port when it
// equals the scheme default.
func (u URL) String() string {
	if d, ok := defaultPorts[u.Scheme]; ok && u.EffectivePort() == d {
		return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Target)
	}
	return fmt.Sprintf("%s://%s:%d%s", u.Scheme, u.Host, u.EffectivePort(), u.Target)
}

// Origin identifies a server endpoint: scheme, host and effective port.
// Two connections can be reused for each other only if their Origins are
// Equal.
type Origin struct {
	Scheme string
	Host   string
	Port   int
}

// Equal reports whether two origins name the same endpoint.
func (o Origin) Equal(other Origin) bool {
	return o.Scheme == other.Scheme && o.Host == other.Host && o.Port == other.Port
}

// String renders scheme://host:port.
func (o Origin) String() string {
	return fmt.Sprintf("%s://%s:%d", o.Scheme, o.Host, o.Port)
}

// HostHeader renders the value to use for a Host header, suppressing the
// port when it's the scheme default.
func (o Origin) HostHeader() string {
	if d, ok := defaultPorts[o.Scheme]; ok && o.Port == d {
		return o.Host
	}
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}
