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

import "strings"

// Header is a single (name, value) pair. A plain slice of Header preserves
// caller order, unlike a map, which callers rely on when
// "preserves caller order").
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list with case-insensitive lookup helpers.
type Headers []Header

// Get returns the first value for name (case-insensitive), and whether it
// was found.
func (h Headers) Get(name string) (string, bool) {
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present (case-insensitive).
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Set appends a header. It does not deduplicate: callers that need
// "set-if-absent" should check Has first, matching the Host/Content-Length
// injection rules in Request.Normalize.
func (h Headers) Set(name, value string) Headers {
	return append(h, Header{Name: name, Value: value})
}

// WithoutPseudo drops any header named with a leading ':' (HTTP/2
// pseudo-headers), used when populating trailing headers.
func (h Headers) WithoutPseudo() Headers {
	out := make(Headers, 0, len(h))
	for _, kv := range h {
		if strings.HasPrefix(kv.Name, ":") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// Lowercased returns a copy with every header name lowercased, as HTTP/2
// requires on the wire.
func (h Headers) Lowercased() Headers {
	out := make(Headers, len(h))
	for i, kv := range h {
		out[i] = Header{Name: strings.ToLower(kv.Name), Value: kv.Value}
	}
	return out
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	copy(out, h)
	return out
}
