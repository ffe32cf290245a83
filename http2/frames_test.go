package http2_test

import (
	"bytes"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// serverFramer builds raw HTTP/2 frame bytes, playing the server side of a
// scripted exchange against the engine under test.
type serverFramer struct {
	buf    bytes.Buffer
	framer *http2.Framer
	enc    *hpack.Encoder
	encBuf bytes.Buffer
}

func newServerFramer() *serverFramer {
	s := &serverFramer{}
	s.framer = http2.NewFramer(&s.buf, nil)
	s.enc = hpack.NewEncoder(&s.encBuf)
	return s
}

func (s *serverFramer) headers(streamID uint32, status string, endStream bool) *serverFramer {
	s.encBuf.Reset()
	_ = s.enc.WriteField(hpack.HeaderField{Name: ":status", Value: status})
	block := make([]byte, s.encBuf.Len())
	copy(block, s.encBuf.Bytes())
	_ = s.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     endStream,
	})
	return s
}

func (s *serverFramer) data(streamID uint32, payload []byte, endStream bool) *serverFramer {
	_ = s.framer.WriteData(streamID, endStream, payload)
	return s
}

func (s *serverFramer) goAway(lastStreamID uint32) *serverFramer {
	_ = s.framer.WriteGoAway(lastStreamID, http2.ErrCodeNo, nil)
	return s
}

func (s *serverFramer) bytes() []byte {
	return append([]byte(nil), s.buf.Bytes()...)
}
