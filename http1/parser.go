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

package http1

import (
	"bufio"
	"bytes"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/sabouaram/httpcore/message"
)

// MaxHeaderSize bounds the accumulated request/status-line-plus-headers
// block; a header block larger than that is rejected rather than buffered
// without bound.
const MaxHeaderSize = 100 * 1024

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyContentLength
	bodyChunked
	bodyUntilClose
)

// ResponseParser is the sans-I/O parser side: Feed appends network bytes,
// NextEvent drains as many events as the buffered bytes allow.
type ResponseParser struct {
	buf []byte
	eof bool

	headDone bool
	mode     bodyMode
	remain   int64 // bodyContentLength: bytes left: bodyChunked: current chunk bytes left
	chunkHdr bool  // bodyChunked: expecting a size line next
	done     bool  // EndOfMessage already emitted
	paused   bool
}

// NewResponseParser returns a parser ready to read one response.
func NewResponseParser() *ResponseParser { return &ResponseParser{} }

// Feed appends freshly-read network bytes.
func (p *ResponseParser) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// FeedEOF tells the parser the network half-closed. Once the buffer is
// drained, NextEvent returns a ConnectionClosed event while the response is
// still incomplete; a body delimited by connection close ends with
// EndOfMessage instead.
func (p *ResponseParser) FeedEOF() { p.eof = true }

// Ready resets the parser to read a new response on the same (reused)
// connection: cycles the parser back to its ready state.
func (p *ResponseParser) Ready() {
	*p = ResponseParser{buf: p.buf[:0]}
}

// Leftover returns (and clears) any bytes fed to the parser but not yet
// consumed past the message boundary it has parsed so far — used by CONNECT
// tunneling to hand unread bytes on to the upgraded transport.
func (p *ResponseParser) Leftover() []byte {
	b := p.buf
	p.buf = nil
	return b
}

// NextEvent returns the next event, or a NeedData/Paused sentinel.
func (p *ResponseParser) NextEvent() (Event, error) {
	if p.paused {
		return Event{Kind: Paused}, nil
	}

	if !p.headDone {
		ev, err := p.parseHead()
		if err != nil {
			return Event{}, err
		}
		if ev.Kind == NeedData {
			if p.eof {
				return Event{Kind: EventConnectionClosed}, nil
			}
			return ev, nil
		}
		return ev, nil
	}

	return p.parseBody()
}

func (p *ResponseParser) parseHead() (Event, error) {
	idx := bytes.Index(p.buf, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(p.buf) > MaxHeaderSize {
			return Event{}, fmt.Errorf("http1: header block exceeds %d bytes", MaxHeaderSize)
		}
		return Event{Kind: NeedData}, nil
	}
	if idx > MaxHeaderSize {
		return Event{}, fmt.Errorf("http1: header block exceeds %d bytes", MaxHeaderSize)
	}

	head := p.buf[:idx]
	rest := p.buf[idx+4:]

	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(append(head, '\r', '\n'))))
	statusLine, err := tp.ReadLine()
	if err != nil {
		return Event{}, fmt.Errorf("http1: malformed status line: %w", err)
	}

	status, reason, err := parseStatusLine(statusLine)
	if err != nil {
		return Event{}, err
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && len(mimeHeader) == 0 {
		return Event{}, fmt.Errorf("http1: malformed headers: %w", err)
	}

	hdrs := make(message.Headers, 0, len(mimeHeader))
	for k, vs := range mimeHeader {
		for _, v := range vs {
			hdrs = append(hdrs, message.Header{Name: k, Value: v})
		}
	}

	p.buf = rest

	if status >= 100 && status < 200 && status != 101 {
		// Informational; caller loops and re-parses another head. 101
		// Switching Protocols is final and ends the head like any response.
		p.headDone = false
		return Event{Kind: EventInformationalResponse, StatusCode: status, ReasonPhrase: reason, Headers: hdrs}, nil
	}

	p.headDone = true
	p.mode, p.remain = framingFor(status, hdrs)
	return Event{Kind: EventResponse, StatusCode: status, ReasonPhrase: reason, Headers: hdrs}, nil
}

func parseStatusLine(line string) (int, string, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("http1: malformed status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", fmt.Errorf("http1: malformed status code %q", parts[1])
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return code, reason, nil
}

// framingFor derives the body-framing mode from the response status and
// headers, per RFC 9112 §6.3 (simplified to the cases the pool needs).
func framingFor(status int, h message.Headers) (bodyMode, int64) {
	if status == 204 || status == 304 || status < 200 {
		return bodyNone, 0
	}
	if te, ok := h.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		return bodyChunked, 0
	}
	if cl, ok := h.Get("Content-Length"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64); err == nil {
			return bodyContentLength, n
		}
	}
	return bodyUntilClose, 0
}

func (p *ResponseParser) parseBody() (Event, error) {
	switch p.mode {
	case bodyNone:
		p.paused = true
		return Event{Kind: EventEndOfMessage}, nil

	case bodyContentLength:
		if p.remain == 0 {
			p.paused = true
			return Event{Kind: EventEndOfMessage}, nil
		}
		if len(p.buf) == 0 {
			if p.eof {
				return Event{Kind: EventConnectionClosed}, nil
			}
			return Event{Kind: NeedData}, nil
		}
		n := int64(len(p.buf))
		if n > p.remain {
			n = p.remain
		}
		chunk := p.buf[:n]
		p.buf = p.buf[n:]
		p.remain -= n
		return Event{Kind: EventData, Data: chunk}, nil

	case bodyUntilClose:
		if len(p.buf) > 0 {
			chunk := p.buf
			p.buf = nil
			return Event{Kind: EventData, Data: chunk}, nil
		}
		if p.eof {
			p.paused = true
			return Event{Kind: EventEndOfMessage}, nil
		}
		return Event{Kind: NeedData}, nil

	case bodyChunked:
		return p.parseChunk()
	}
	return Event{}, fmt.Errorf("http1: unreachable body mode")
}

func (p *ResponseParser) parseChunk() (Event, error) {
	if p.remain > 0 {
		n := int64(len(p.buf))
		if n == 0 {
			if p.eof {
				return Event{Kind: EventConnectionClosed}, nil
			}
			return Event{Kind: NeedData}, nil
		}
		if n > p.remain {
			n = p.remain
		}
		chunk := p.buf[:n]
		p.buf = p.buf[n:]
		p.remain -= n
		if p.remain == 0 {
			// consume trailing CRLF after the chunk data, if available
			if len(p.buf) >= 2 && p.buf[0] == '\r' && p.buf[1] == '\n' {
				p.buf = p.buf[2:]
			}
		}
		return Event{Kind: EventData, Data: chunk}, nil
	}

	// expecting a chunk-size line
	idx := bytes.Index(p.buf, []byte("\r\n"))
	if idx < 0 {
		if p.eof {
			return Event{Kind: EventConnectionClosed}, nil
		}
		return Event{Kind: NeedData}, nil
	}
	sizeLine := string(p.buf[:idx])
	if semi := strings.IndexByte(sizeLine, ';'); semi >= 0 {
		sizeLine = sizeLine[:semi]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
	if err != nil {
		return Event{}, fmt.Errorf("http1: malformed chunk size %q", sizeLine)
	}

	p.buf = p.buf[idx+2:]

	if size == 0 {
		// trailer section, terminated by a blank line
		if tEnd := bytes.Index(p.buf, []byte("\r\n\r\n")); tEnd >= 0 {
			p.buf = p.buf[tEnd+4:]
			p.paused = true
			return Event{Kind: EventEndOfMessage}, nil
		}
		if tEnd := bytes.Index(p.buf, []byte("\r\n")); tEnd == 0 {
			p.buf = p.buf[2:]
			p.paused = true
			return Event{Kind: EventEndOfMessage}, nil
		}
		if p.eof {
			return Event{Kind: EventConnectionClosed}, nil
		}
		return Event{Kind: NeedData}, nil
	}

	p.remain = size
	return p.parseChunk()
}
