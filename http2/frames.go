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
	"strconv"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/message"
)

// sendHeaders builds the pseudo-header block for req (:method, :authority,
// :scheme, :path), lowercases and carries over the rest (dropping Host and
// Transfer-Encoding, which HTTP/2 never sends), and writes a single
// HEADERS frame. Header blocks that would need a CONTINUATION frame are
// not split; practically-sized request headers fit in one frame.
func (c *Conn) sendHeaders(id uint32, req *message.Request) error {
	req.Normalize()
	origin := req.URL.Origin()

	target := req.URL.Target
	if len(req.Extensions.Target) > 0 {
		target = string(req.Extensions.Target)
	}
	if target == "" {
		target = "/"
	}

	c.hpackEncBuf.Reset()
	fields := []hpack.HeaderField{
		{Name: ":method", Value: req.Method},
		{Name: ":authority", Value: origin.HostHeader()},
		{Name: ":scheme", Value: origin.Scheme},
		{Name: ":path", Value: target},
	}
	for _, kv := range req.Headers {
		if strings.EqualFold(kv.Name, "Host") || strings.EqualFold(kv.Name, "Transfer-Encoding") {
			continue
		}
		fields = append(fields, hpack.HeaderField{Name: strings.ToLower(kv.Name), Value: kv.Value})
	}
	for _, f := range fields {
		if err := c.hpackEnc.WriteField(f); err != nil {
			return errLocalProtocol.Errorf("http2: hpack encode: %v", err).Add(liberr.LocalProtocolError.Error())
		}
	}
	block := make([]byte, c.hpackEncBuf.Len())
	copy(block, c.hpackEncBuf.Bytes())

	noBody := req.Stream == nil || req.Stream == message.EmptyBodyStream

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: block,
		EndStream:     noBody,
		EndHeaders:    true,
	}); err != nil {
		return errLocalProtocol.Errorf("http2: write headers: %v", err).Add(liberr.LocalProtocolError.Error())
	}
	return c.flushWrite(req)
}

// sendBody streams the request body as DATA frames, respecting the
// stream's outbound flow-control window.
func (c *Conn) sendBody(id uint32, req *message.Request) error {
	if req.Stream == nil || req.Stream == message.EmptyBodyStream {
		return nil
	}

	for {
		chunk, err := req.Stream.Next()
		for len(chunk) > 0 {
			n, ferr := c.waitForOutgoingFlow(id, req)
			if ferr != nil {
				return ferr
			}
			if n > len(chunk) {
				n = len(chunk)
			}
			if werr := c.writeData(id, chunk[:n], false, req); werr != nil {
				return werr
			}
			c.consumeWindow(id, int64(n))
			chunk = chunk[n:]
		}
		if err == io.EOF {
			return c.writeData(id, nil, true, req)
		}
		if err != nil {
			return err
		}
	}
}

func (c *Conn) consumeWindow(id uint32, n int64) {
	c.streamsMu.Lock()
	if st, ok := c.streams[id]; ok {
		st.window -= n
	}
	c.streamsMu.Unlock()
}

func (c *Conn) writeData(id uint32, data []byte, endStream bool, req *message.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.framer.WriteData(id, endStream, data); err != nil {
		return errLocalProtocol.Errorf("http2: write data: %v", err).Add(liberr.LocalProtocolError.Error())
	}
	return c.flushWrite(req)
}

// receiveResponseHeaders waits for the stream's initial HEADERS event,
// returning the decoded :status and the non-pseudo headers.
func (c *Conn) receiveResponseHeaders(id uint32, req *message.Request) (int, message.Headers, bool, error) {
	for {
		ev, err := c.waitForStreamEvent(id, req)
		if err != nil {
			return 0, nil, false, err
		}
		if ev.kind == eventHeaders {
			streamEnded := false
			if peek, perr := c.peekStreamEnded(id); perr == nil {
				streamEnded = peek
			}
			return ev.status, ev.headers, streamEnded, nil
		}
	}
}

// peekStreamEnded reports whether the initial HEADERS frame already ended
// the stream (a response with no body): routeFrame pushes eventEnd right
// behind eventHeaders in that case, so it shows up as the next queued
// event without having to block on the network again.
func (c *Conn) peekStreamEnded(id uint32) (bool, error) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	st, ok := c.streams[id]
	if !ok || len(st.queue) == 0 {
		return false, nil
	}
	if st.queue[0].kind == eventEnd {
		st.queue = st.queue[1:]
		return true, nil
	}
	return false, nil
}

func (c *Conn) decodeHeaders(frag []byte) (message.Headers, error) {
	c.decoded = c.decoded[:0]
	if _, err := c.hpackDec.Write(frag); err != nil {
		return nil, err
	}
	out := make(message.Headers, len(c.decoded))
	copy(out, c.decoded)
	return out, nil
}

func statusFromHeaders(h message.Headers) int {
	for _, kv := range h {
		if kv.Name == ":status" {
			n, _ := strconv.Atoi(kv.Value)
			return n
		}
	}
	return 0
}

// routeFrame dispatches one fully-buffered frame to the owning stream's
// event queue, or handles it at the connection level (SETTINGS, GOAWAY,
// PING, connection-level WINDOW_UPDATE).
func (c *Conn) routeFrame(fr http2.Frame, req *message.Request) error {
	switch f := fr.(type) {
	case *http2.SettingsFrame:
		if f.IsAck() {
			return nil
		}
		_ = f.ForeachSetting(func(s http2.Setting) error {
			switch s.ID {
			case http2.SettingMaxConcurrentStreams:
				c.applyRemoteMaxStreams(int64(s.Val))
			case http2.SettingMaxFrameSize:
				c.maxFrameSize = s.Val
			}
			return nil
		})
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if err := c.framer.WriteSettingsAck(); err != nil {
			return errLocalProtocol.Errorf("http2: write settings ack: %v", err).Add(liberr.LocalProtocolError.Error())
		}
		return c.flushWrite(req)

	case *http2.HeadersFrame:
		hdrs, err := c.decodeHeaders(f.HeaderBlockFragment())
		if err != nil {
			return errLocalProtocol.Errorf("http2: hpack decode: %v", err).Add(liberr.RemoteProtocolError.Error())
		}
		c.streamsMu.Lock()
		st, ok := c.streams[f.StreamID]
		if !ok {
			c.streamsMu.Unlock()
			return nil
		}
		if !st.gotResponse {
			st.gotResponse = true
			status := statusFromHeaders(hdrs)
			st.push(frameEvent{kind: eventHeaders, status: status, headers: hdrs.WithoutPseudo()})
		} else {
			st.push(frameEvent{kind: eventTrailers, headers: hdrs.WithoutPseudo()})
		}
		if f.StreamEnded() {
			st.push(frameEvent{kind: eventEnd})
		}
		c.streamsMu.Unlock()
		return nil

	case *http2.DataFrame:
		data := f.Data()
		cp := make([]byte, len(data))
		copy(cp, data)
		c.streamsMu.Lock()
		if st, ok := c.streams[f.StreamID]; ok {
			if len(cp) > 0 {
				st.push(frameEvent{kind: eventData, data: cp})
			}
			if f.StreamEnded() {
				st.push(frameEvent{kind: eventEnd})
			}
		}
		c.streamsMu.Unlock()
		if len(cp) > 0 {
			return c.writeWindowUpdate(f.StreamID, uint32(len(cp)), req)
		}
		return nil

	case *http2.WindowUpdateFrame:
		if f.StreamID == 0 {
			return nil
		}
		c.streamsMu.Lock()
		if st, ok := c.streams[f.StreamID]; ok {
			st.window += int64(f.Increment)
		}
		c.streamsMu.Unlock()
		return nil

	case *http2.RSTStreamFrame:
		c.streamsMu.Lock()
		if st, ok := c.streams[f.StreamID]; ok {
			st.push(frameEvent{kind: eventReset, errCode: f.ErrCode})
		}
		c.streamsMu.Unlock()
		return nil

	case *http2.GoAwayFrame:
		c.stateMu.Lock()
		c.goAway = true
		c.goAwayLastID = f.LastStreamID
		c.stateMu.Unlock()
		c.onStreamClosed(0)
		return nil

	case *http2.PingFrame:
		if f.IsAck() {
			return nil
		}
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if err := c.framer.WritePing(true, f.Data); err != nil {
			return errLocalProtocol.Errorf("http2: write ping ack: %v", err).Add(liberr.LocalProtocolError.Error())
		}
		return c.flushWrite(req)
	}
	return nil
}

// writeWindowUpdate replenishes the stream- and connection-level receive
// windows by n bytes, matching the amount of DATA just consumed.
func (c *Conn) writeWindowUpdate(streamID uint32, n uint32, req *message.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.framer.WriteWindowUpdate(streamID, n); err != nil {
		return errLocalProtocol.Errorf("http2: write window update: %v", err).Add(liberr.LocalProtocolError.Error())
	}
	if err := c.framer.WriteWindowUpdate(0, n); err != nil {
		return errLocalProtocol.Errorf("http2: write window update: %v", err).Add(liberr.LocalProtocolError.Error())
	}
	return c.flushWrite(req)
}

func (c *Conn) applyRemoteMaxStreams(n int64) {
	if n > initialMaxConcurrentStreams {
		n = initialMaxConcurrentStreams
	}
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	if n > c.remoteMaxStreams {
		c.streamSem.Release(n - c.remoteMaxStreams)
		c.remoteMaxStreams = n
		return
	}
	// A lower limit holds back the slots that are free right now. Slots
	// held by in-flight streams are not held back, so the effective bound
	// can remain above n.
	for c.remoteMaxStreams > n && c.streamSem.TryAcquire(1) {
		c.remoteMaxStreams--
	}
}
