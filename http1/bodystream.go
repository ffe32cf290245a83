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
	"io"

	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/message"
)

// responseBodyStream drives the parser for one response body and reports
// back to the owning connection when the body has been fully read or
// abandoned, so the connection can decide whether it is reusable.
type responseBodyStream struct {
	conn   *Conn
	req    *message.Request
	done   bool
	closed bool
}

func newResponseBodyStream(c *Conn, req *message.Request) *responseBodyStream {
	return &responseBodyStream{conn: c, req: req}
}

var _ message.ByteStream = (*responseBodyStream)(nil)

func (s *responseBodyStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		ev, err := s.conn.parser.NextEvent()
		if err != nil {
			return nil, liberr.RemoteProtocolError.Errorf("%v", err)
		}
		switch ev.Kind {
		case NeedData:
			buf := make([]byte, 64*1024)
			n, rerr := s.conn.stream.Read(buf, readTimeout(s.req))
			if n > 0 {
				s.conn.parser.Feed(buf[:n])
			}
			if rerr == io.EOF {
				s.conn.parser.FeedEOF()
			} else if rerr != nil {
				return nil, wrapReadErr(rerr)
			}
		case EventData:
			if len(ev.Data) == 0 {
				continue
			}
			return ev.Data, nil
		case EventEndOfMessage:
			s.done = true
			return nil, io.EOF
		case EventConnectionClosed:
			s.done = true
			return nil, liberr.ServerDisconnectedError.Errorf("server disconnected mid-body").Add(liberr.RemoteProtocolError.Error())
		default:
			return nil, liberr.RemoteProtocolError.Errorf("http1: unexpected event while reading body")
		}
	}
}

// Close reports the request-side DONE state (always true: the request head
// and body are written synchronously before HandleRequest returns) together
// with s.done to decide reuse vs. close.
func (s *responseBodyStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.onResponseBodyClosed(s.done)
	return nil
}

// upgradeStream exposes the raw transport after a 101 Switching Protocols
// response, handing the caller any bytes the parser already buffered past
// the header block.
type upgradeStream struct {
	conn     *Conn
	leftover []byte
}

func newUpgradeStream(c *Conn) *upgradeStream {
	left := c.parser.buf
	c.parser.buf = nil
	return &upgradeStream{conn: c, leftover: left}
}

var _ message.NetworkStream = (*upgradeStream)(nil)

func (u *upgradeStream) LeftoverBytes() []byte {
	b := u.leftover
	u.leftover = nil
	return b
}

func (u *upgradeStream) Read(p []byte) (int, error) {
	if len(u.leftover) > 0 {
		n := copy(p, u.leftover)
		u.leftover = u.leftover[n:]
		return n, nil
	}
	return u.conn.stream.Read(p, 0)
}

func (u *upgradeStream) Write(p []byte) (int, error) {
	if err := u.conn.stream.Write(p, 0); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (u *upgradeStream) Close() error {
	return u.conn.Close()
}
