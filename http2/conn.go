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

// Package http2 is a sans-I/O-flavored HTTP/2 engine: golang.org/x/net/http2's
// Framer reads and writes frames against in-memory buffers fed explicitly
// from a backend.Stream, never against a live socket directly, so the same
// engine drives both a real connection and a scripted test double.
package http2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
	"golang.org/x/sync/semaphore"

	"github.com/sabouaram/httpcore/backend"
	"github.com/sabouaram/httpcore/connapi"
	"github.com/sabouaram/httpcore/duration"
	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/message"
)

func init() {
	liberr.RegisterFctMessage(liberr.MinPkgHTTP2, messageFor)
}

const (
	errLocalProtocol liberr.CodeError = liberr.MinPkgHTTP2 + iota
)

func messageFor(code liberr.CodeError) string {
	switch code {
	case errLocalProtocol:
		return "http2: local protocol violation"
	}
	return ""
}

const (
	initialMaxConcurrentStreams = 100
	initialMaxHeaderListSize    = 65536
	connectionWindowBump        = 1 << 24
	defaultStreamWindow         = 65535
	defaultMaxFrameSize         = 16384
	clientPreface               = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
)

// State is the engine-local connection state.
type State int

const (
	Idle State = iota
	Active
	Closed
)

var errNeedMore = fmt.Errorf("http2: need more data")

// Conn drives a single HTTP/2 connection: any number of concurrent
// streams bounded by a semaphore, four named mutexes guarding the
// distinct critical sections the protocol needs serialized. It
// implements connapi.Conn.
type Conn struct {
	origin    message.Origin
	stream    backend.Stream
	keepAlive time.Duration

	initMu  sync.Mutex
	readMu  sync.Mutex
	writeMu sync.Mutex
	stateMu sync.Mutex

	state        State
	requestCount int
	expireAt     time.Time
	hasExpiry    bool
	initDone     bool

	writeBuf bytes.Buffer
	readBuf  bytes.Buffer
	framer   *http2.Framer

	hpackEncBuf bytes.Buffer
	hpackEnc    *hpack.Encoder
	hpackDec    *hpack.Decoder
	decoded     message.Headers

	streamsMu    sync.Mutex
	streams      map[uint32]*streamState
	nextStreamID uint32
	idsExhausted bool

	streamSem        *semaphore.Weighted
	remoteMaxStreams int64

	maxFrameSize uint32

	goAway          bool
	goAwayLastID    uint32
}

// NewConn wraps an already-connected stream as an HTTP/2 engine. The
// connection preface is sent lazily, on the first HandleRequest.
func NewConn(origin message.Origin, stream backend.Stream, keepAlive time.Duration) *Conn {
	c := &Conn{
		origin:           origin,
		stream:           stream,
		keepAlive:        keepAlive,
		state:            Idle,
		streams:          make(map[uint32]*streamState),
		nextStreamID:     1,
		remoteMaxStreams: initialMaxConcurrentStreams,
		maxFrameSize:     defaultMaxFrameSize,
		streamSem:        semaphore.NewWeighted(initialMaxConcurrentStreams),
	}
	c.framer = http2.NewFramer(&c.writeBuf, &c.readBuf)
	c.framer.MaxHeaderListSize = initialMaxHeaderListSize
	c.hpackEnc = hpack.NewEncoder(&c.hpackEncBuf)
	c.hpackDec = hpack.NewDecoder(initialMaxHeaderListSize, func(f hpack.HeaderField) {
		c.decoded = append(c.decoded, message.Header{Name: f.Name, Value: f.Value})
	})
	return c
}

var _ connapi.Conn = (*Conn)(nil)

func (c *Conn) Origin() message.Origin { return c.origin }

func (c *Conn) CanHandleRequest(origin message.Origin) bool { return c.origin.Equal(origin) }

func (c *Conn) IsAvailable() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state == Closed || c.idsExhausted {
		return false
	}
	return true
}

func (c *Conn) IsIdle() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state == Idle
}

func (c *Conn) HasExpired() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state == Idle && c.hasExpiry && !time.Now().Before(c.expireAt)
}

func (c *Conn) IsClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state == Closed
}

func (c *Conn) Info() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	names := map[State]string{Idle: "IDLE", Active: "ACTIVE", Closed: "CLOSED"}
	return fmt.Sprintf("HTTP/2, %s, Request Count: %d", names[c.state], c.requestCount)
}

func (c *Conn) Close() error {
	c.stateMu.Lock()
	if c.state == Closed {
		c.stateMu.Unlock()
		return nil
	}
	c.state = Closed
	c.stateMu.Unlock()
	return c.stream.Close()
}

// HandleRequest performs one HTTP/2 stream's request/response exchange.
func (c *Conn) HandleRequest(ctx context.Context, req *message.Request) (*message.Response, error) {
	if !c.origin.Equal(req.URL.Origin()) {
		return nil, errLocalProtocol.Errorf("http2: origin mismatch").Add(liberr.LocalProtocolError.Error())
	}

	if err := c.beginStreamSlot(); err != nil {
		return nil, err
	}

	if err := c.ensureInit(req); err != nil {
		c.abortStreamSlot()
		return nil, err
	}

	if err := c.streamSem.Acquire(ctx, 1); err != nil {
		c.abortStreamSlot()
		return nil, err
	}

	id, err := c.nextID()
	if err != nil {
		c.streamSem.Release(1)
		c.abortStreamSlot()
		return nil, err
	}

	st := newStreamState()
	c.streamsMu.Lock()
	c.streams[id] = st
	c.streamsMu.Unlock()

	req.Trace("http2.send_request_headers.started", map[string]interface{}{"stream_id": id})
	if err := c.sendHeaders(id, req); err != nil {
		c.dropStream(id)
		req.Trace("http2.send_request_headers.failed", map[string]interface{}{"error": err})
		return nil, err
	}
	req.Trace("http2.send_request_headers.complete", nil)

	req.Trace("http2.send_request_body.started", map[string]interface{}{"stream_id": id})
	if err := c.sendBody(id, req); err != nil {
		c.dropStream(id)
		req.Trace("http2.send_request_body.failed", map[string]interface{}{"error": err})
		return nil, err
	}
	req.Trace("http2.send_request_body.complete", nil)

	req.Trace("http2.receive_response_headers.started", map[string]interface{}{"stream_id": id})
	status, headers, streamEnded, err := c.receiveResponseHeaders(id, req)
	if err != nil {
		c.dropStream(id)
		req.Trace("http2.receive_response_headers.failed", map[string]interface{}{"error": err})
		return nil, err
	}
	req.Trace("http2.receive_response_headers.complete", map[string]interface{}{"status": status})

	c.stateMu.Lock()
	c.requestCount++
	c.stateMu.Unlock()

	resp := &message.Response{
		Status:  status,
		Headers: headers,
		Extensions: message.ResponseExtensions{
			HTTPVersion: message.HTTP2,
			StreamID:    int(id),
		},
	}
	if streamEnded {
		resp.Stream = message.EmptyBodyStream
		c.onStreamClosed(id)
	} else {
		resp.Stream = newResponseBodyStream(c, id, req, resp)
	}
	return resp, nil
}

// beginStreamSlot implements the stream-lifecycle state-lock step: move
// IDLE/ACTIVE -> ACTIVE, or reject if CLOSED / exhausted.
func (c *Conn) beginStreamSlot() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state == Closed || c.idsExhausted {
		return liberr.ConnectionNotAvailable.Error()
	}
	c.state = Active
	c.hasExpiry = false
	return nil
}

func (c *Conn) abortStreamSlot() {
	c.onStreamClosed(0)
}

func (c *Conn) ensureInit(req *message.Request) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initDone {
		return nil
	}

	req.Trace("http2.send_connection_init.started", nil)
	if err := c.writeRaw([]byte(clientPreface), req); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.framer.WriteSettings(
		http2.Setting{ID: http2.SettingEnablePush, Val: 0},
		http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: initialMaxConcurrentStreams},
		http2.Setting{ID: http2.SettingMaxHeaderListSize, Val: initialMaxHeaderListSize},
	); err != nil {
		return errLocalProtocol.Errorf("http2: write settings: %v", err).Add(liberr.LocalProtocolError.Error())
	}
	if err := c.framer.WriteWindowUpdate(0, connectionWindowBump); err != nil {
		return errLocalProtocol.Errorf("http2: write window update: %v", err).Add(liberr.LocalProtocolError.Error())
	}
	if err := c.flushWrite(req); err != nil {
		return err
	}
	c.initDone = true
	req.Trace("http2.send_connection_init.complete", nil)
	return nil
}

func (c *Conn) nextID() (uint32, error) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	if c.idsExhausted || c.nextStreamID > 0x7fffffff {
		c.idsExhausted = true
		return 0, liberr.ConnectionNotAvailable.Error()
	}
	id := c.nextStreamID
	c.nextStreamID += 2
	return id, nil
}

func (c *Conn) dropStream(id uint32) {
	c.streamsMu.Lock()
	delete(c.streams, id)
	c.streamsMu.Unlock()
	c.streamSem.Release(1)
	c.onStreamClosed(id)
}

// onStreamClosed implements the response-close bookkeeping: if stream id is
// still registered, unregister it and release its semaphore slot
// (dropStream unregisters and releases before calling here, so no slot is
// released twice), and if nothing remains in flight, transition the
// connection to IDLE (or CLOSED if a GOAWAY or id exhaustion is pending).
func (c *Conn) onStreamClosed(id uint32) {
	c.streamsMu.Lock()
	registered := false
	if id != 0 {
		_, registered = c.streams[id]
		delete(c.streams, id)
	}
	remaining := len(c.streams)
	c.streamsMu.Unlock()
	if registered {
		c.streamSem.Release(1)
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == Closed {
		return
	}
	if remaining > 0 {
		return
	}
	if c.goAway || c.idsExhausted {
		c.state = Closed
		c.stateMu.Unlock()
		_ = c.stream.Close()
		c.stateMu.Lock()
		return
	}
	c.state = Idle
	if c.keepAlive > 0 {
		c.expireAt = time.Now().Add(c.keepAlive)
	} else {
		c.expireAt = time.Now()
	}
	c.hasExpiry = true
}

func durOf(d *duration.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.Time()
}

func readTimeout(req *message.Request) time.Duration  { return durOf(req.Extensions.Timeout.Read) }
func writeTimeout(req *message.Request) time.Duration { return durOf(req.Extensions.Timeout.Write) }

// writeRaw writes p directly to the transport, bypassing the framer (used
// once for the client connection preface, which is not itself a frame).
func (c *Conn) writeRaw(p []byte, req *message.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.stream.Write(p, writeTimeout(req)); err != nil {
		return liberr.WriteError.Error(err)
	}
	return nil
}

// flushWrite sends any bytes the framer has buffered in writeBuf. Callers
// hold writeMu (or call it while still holding it, as ensureInit does)
// around the WriteXxx + flushWrite pair so frames are never interleaved.
func (c *Conn) flushWrite(req *message.Request) error {
	if c.writeBuf.Len() == 0 {
		return nil
	}
	b := c.writeBuf.Bytes()
	out := make([]byte, len(b))
	copy(out, b)
	c.writeBuf.Reset()
	if err := c.stream.Write(out, writeTimeout(req)); err != nil {
		return liberr.WriteError.Error(err)
	}
	return nil
}

// tryReadFrame returns the next frame once readBuf holds a complete frame,
// or errNeedMore if it doesn't — never letting the framer consume a
// partial frame from the buffer.
func (c *Conn) tryReadFrame() (http2.Frame, error) {
	avail := c.readBuf.Bytes()
	if len(avail) < 9 {
		return nil, errNeedMore
	}
	length := int(avail[0])<<16 | int(avail[1])<<8 | int(avail[2])
	if len(avail) < 9+length {
		return nil, errNeedMore
	}
	return c.framer.ReadFrame()
}

// receiveEvents reads one network chunk, feeds it to the framer's buffer,
// and routes every complete frame it now contains.
func (c *Conn) receiveEvents(req *message.Request) error {
	buf := make([]byte, 64*1024)
	n, err := c.stream.Read(buf, readTimeout(req))
	if n > 0 {
		c.readBuf.Write(buf[:n])
	}
	eof := err == io.EOF
	if err != nil && !eof {
		return liberr.ReadError.Error(err)
	}

	for {
		fr, ferr := c.tryReadFrame()
		if ferr == errNeedMore {
			break
		}
		if ferr != nil {
			return errLocalProtocol.Errorf("http2: malformed frame: %v", ferr).Add(liberr.RemoteProtocolError.Error())
		}
		if rerr := c.routeFrame(fr, req); rerr != nil {
			return rerr
		}
	}

	if eof {
		c.onConnectionClosed()
		return liberr.ServerDisconnectedError.Errorf("server disconnected").Add(liberr.RemoteProtocolError.Error())
	}
	return nil
}

func (c *Conn) onConnectionClosed() {
	c.streamsMu.Lock()
	for _, st := range c.streams {
		st.push(frameEvent{kind: eventReset})
	}
	c.streamsMu.Unlock()

	c.stateMu.Lock()
	c.state = Closed
	c.stateMu.Unlock()
}
