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

package http2

import (
	"io"

	"golang.org/x/net/http2"

	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/message"
)

type eventKind int

const (
	eventHeaders eventKind = iota
	eventData
	eventTrailers
	eventEnd
	eventReset
)

type frameEvent struct {
	kind    eventKind
	status  int
	headers message.Headers
	data    []byte
	errCode http2.ErrCode
}

// streamState is the per-stream bookkeeping: a FIFO event queue fed by
// receiveEvents and drained by waitForStreamEvent, plus the outbound
// flow-control window wait-for-outgoing-flow consults.
type streamState struct {
	queue       []frameEvent
	gotResponse bool
	window      int64
}

func newStreamState() *streamState {
	return &streamState{window: defaultStreamWindow}
}

func (s *streamState) push(ev frameEvent) {
	s.queue = append(s.queue, ev)
}

// waitForStreamEvent pops the next event for id, reading more frames off
// the network as needed. A StreamReset event surfaces as an error.
func (c *Conn) waitForStreamEvent(id uint32, req *message.Request) (frameEvent, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		c.streamsMu.Lock()
		st, ok := c.streams[id]
		if ok && len(st.queue) > 0 {
			ev := st.queue[0]
			st.queue = st.queue[1:]
			c.streamsMu.Unlock()
			if ev.kind == eventReset {
				return ev, liberr.RemoteProtocolError.Errorf("http2: stream %d reset (error %d)", id, ev.errCode)
			}
			return ev, nil
		}
		c.streamsMu.Unlock()
		if !ok {
			return frameEvent{}, errLocalProtocol.Errorf("http2: unknown stream %d", id)
		}
		if err := c.receiveEvents(req); err != nil {
			return frameEvent{}, err
		}
	}
}

// waitForOutgoingFlow returns how many bytes may be sent right now,
// capped by the remote's advertised max frame size, blocking on incoming
// WINDOW_UPDATE frames if the stream window is currently exhausted.
func (c *Conn) waitForOutgoingFlow(id uint32, req *message.Request) (int, error) {
	for {
		c.streamsMu.Lock()
		st := c.streams[id]
		win := st.window
		c.streamsMu.Unlock()

		flow := win
		if flow > int64(c.maxFrameSize) {
			flow = int64(c.maxFrameSize)
		}
		if flow > 0 {
			return int(flow), nil
		}
		c.readMu.Lock()
		err := c.receiveEvents(req)
		c.readMu.Unlock()
		if err != nil {
			return 0, err
		}
	}
}

// responseBodyStream drives a single HTTP/2 stream's DATA frames and
// records a trailers block on the response; Close notifies the connection
// that the stream is done.
type responseBodyStream struct {
	conn *Conn
	id   uint32
	req  *message.Request
	resp *message.Response

	done   bool
	closed bool
}

func newResponseBodyStream(c *Conn, id uint32, req *message.Request, resp *message.Response) *responseBodyStream {
	return &responseBodyStream{conn: c, id: id, req: req, resp: resp}
}

var _ message.ByteStream = (*responseBodyStream)(nil)

func (s *responseBodyStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		ev, err := s.conn.waitForStreamEvent(s.id, s.req)
		if err != nil {
			s.done = true
			return nil, err
		}
		switch ev.kind {
		case eventData:
			if len(ev.data) == 0 {
				continue
			}
			return ev.data, nil
		case eventTrailers:
			s.resp.Extensions.TrailingHeaders = ev.headers
		case eventEnd:
			s.done = true
			return nil, io.EOF
		}
	}
}

func (s *responseBodyStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.onStreamClosed(s.id)
	return nil
}
