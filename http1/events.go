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

// Package http1 is a sans-I/O HTTP/1.1 engine: it turns
// bytes into discrete events and request objects into bytes, and never
// touches a socket itself. Connection wires it to a backend.Stream.
package http1

import "github.com/sabouaram/httpcore/message"

// EventKind discriminates the events the parser emits.
type EventKind int

const (
	// NeedData means the parser needs more bytes before it can produce
	// another event.
	NeedData EventKind = iota
	// Paused means the parser stopped at a message boundary it will not
	// cross without being told to (used after EndOfMessage so a second
	// message on the same bytestream — pipelining — isn't eagerly parsed).
	Paused
	EventRequestLine
	EventInformationalResponse
	EventResponse
	EventData
	EventEndOfMessage
	EventConnectionClosed
)

// Event is one parser output. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// EventResponse / EventInformationalResponse
	StatusCode   int
	ReasonPhrase string
	Headers      message.Headers

	// EventData
	Data []byte
}

func (e Event) isFinalResponse() bool {
	return e.Kind == EventResponse
}
