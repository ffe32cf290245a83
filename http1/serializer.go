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
	"bytes"
	"fmt"

	"github.com/sabouaram/httpcore/message"
)

// BuildRequestHead serializes the request line and headers. Chunked bodies
// are written separately via BuildChunk/BuildChunkEnd so the caller can
// stream them.
func BuildRequestHead(req *message.Request) []byte {
	var buf bytes.Buffer

	target := req.URL.Target
	if len(req.Extensions.Target) > 0 {
		target = string(req.Extensions.Target)
	}
	if target == "" {
		target = "/"
	}

	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, target)
	for _, kv := range req.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", kv.Name, kv.Value)
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// BuildChunk frames data as one chunked-transfer-encoding chunk.
func BuildChunk(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%x\r\n", len(data))
	buf.Write(data)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// BuildChunkEnd writes the terminating zero-length chunk.
func BuildChunkEnd() []byte {
	return []byte("0\r\n\r\n")
}
