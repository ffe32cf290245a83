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

import (
	"bytes"
	"io"
)

// ByteStream is a lazy, explicitly-closed sequence of byte chunks. Network-
// backed implementations (the HTTP/1.1 and HTTP/2 response bodies) are
// single-pass; PlainBodyStream below is restartable since it wraps a
// literal in-memory byte slice.
type ByteStream interface {
	// Next returns the next chunk of body data. It returns io.EOF (with a
	// nil slice) once the stream is exhausted.
	Next() ([]byte, error)
	// Close releases any resources associated with the stream. Close is
	// idempotent.
	Close() error
}

// PlainBodyStream adapts a literal byte slice (e.g. a request body known
// in full ahead of time) into a ByteStream. It is restartable via Reset,
// unlike network-backed streams.
type PlainBodyStream struct {
	data   []byte
	pos    int
	closed bool
}

// NewPlainBodyStream wraps data as a restartable ByteStream.
func NewPlainBodyStream(data []byte) *PlainBodyStream {
	return &PlainBodyStream{data: data}
}

func (p *PlainBodyStream) Next() ([]byte, error) {
	if p.closed || p.pos >= len(p.data) {
		return nil, io.EOF
	}
	const chunk = 64 * 1024
	end := p.pos + chunk
	if end > len(p.data) {
		end = len(p.data)
	}
	out := p.data[p.pos:end]
	p.pos = end
	return out, nil
}

func (p *PlainBodyStream) Close() error {
	p.closed = true
	return nil
}

// Reset rewinds the stream to the beginning, letting a retry resend the
// same literal body.
func (p *PlainBodyStream) Reset() {
	p.pos = 0
	p.closed = false
}

// Len returns the total body length, used to inject Content-Length.
func (p *PlainBodyStream) Len() int { return len(p.data) }

// ReadAll drains a ByteStream into a single slice; convenience for tests
// and for non-streaming callers. It always closes the stream.
func ReadAll(s ByteStream) ([]byte, error) {
	defer s.Close()

	var buf bytes.Buffer
	for {
		chunk, err := s.Next()
		if len(chunk) > 0 {
			buf.Write(chunk)
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
}

// EmptyBodyStream is a ByteStream with no data, used for bodiless
// requests/responses.
var EmptyBodyStream ByteStream = NewPlainBodyStream(nil)
