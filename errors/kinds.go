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

package errors

// Error kinds shared by every module. Each lives in the
// MinAvailable block since they cross module boundaries and are not tied
// to one package's private code range.
const (
	UnsupportedProtocol CodeError = MinAvailable + iota
	ConnectError
	ConnectTimeout
	ReadError
	ReadTimeout
	WriteError
	WriteTimeout
	NetworkError
	LocalProtocolError
	RemoteProtocolError
	ServerDisconnectedError
	ProxyError
	ConnectionNotAvailable
	PoolTimeout
)

func init() {
	RegisterFctMessage(MinAvailable, kindMessage)
}

func kindMessage(code CodeError) string {
	switch code {
	case UnsupportedProtocol:
		return "unsupported protocol scheme"
	case ConnectError:
		return "error establishing a transport connection"
	case ConnectTimeout:
		return "timed out establishing a transport connection"
	case ReadError:
		return "error reading from the network"
	case ReadTimeout:
		return "timed out reading from the network"
	case WriteError:
		return "error writing to the network"
	case WriteTimeout:
		return "timed out writing to the network"
	case NetworkError:
		return "network error"
	case LocalProtocolError:
		return "local protocol violation"
	case RemoteProtocolError:
		return "remote protocol violation"
	case ServerDisconnectedError:
		return "server disconnected without sending a response"
	case ProxyError:
		return "proxy error"
	case ConnectionNotAvailable:
		return "connection not available for this request"
	case PoolTimeout:
		return "timed out waiting for a connection from the pool"
	}
	return ""
}
