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

// HTTPVersion identifies which protocol produced a Response.
type HTTPVersion string

const (
	HTTP11 HTTPVersion = "HTTP/1.1"
	HTTP2  HTTPVersion = "HTTP/2"
)

// NetworkStream is the minimal surface a response's extensions.network_stream
// exposes after a protocol upgrade (101 Switching Protocols, or a CONNECT
// tunnel): the bytes the protocol parser already buffered past the message
// boundary, plus raw access to the underlying transport.
type NetworkStream interface {
	// LeftoverBytes returns (and clears) any bytes read from the network
	// but not consumed by the message parser.
	LeftoverBytes() []byte
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// ResponseExtensions carries the out-of-band response metadata.
type ResponseExtensions struct {
	HTTPVersion      HTTPVersion
	ReasonPhrase     string // HTTP/1.1 only
	NetworkStream    NetworkStream
	StreamID         int // HTTP/2 only, 0 for HTTP/1.1
	TrailingHeaders  Headers
	RetriesUsed      int // number of connection-level retries consumed before this response was obtained
}

// Response is the immutable (save for its Stream) inbound message returned
// from Pool.HandleRequest.
type Response struct {
	Status     int
	Headers    Headers
	Stream     ByteStream
	Extensions ResponseExtensions
}
