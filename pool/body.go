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

package pool

import (
	"sync"

	"github.com/sabouaram/httpcore/message"
)

// pooledBody wraps a Response's body stream: closing it removes this
// request's PoolRequest and re-runs assignment, which is how a returned
// connection immediately starts serving the next queued request.
type pooledBody struct {
	inner message.ByteStream
	pool  *Pool
	pr    *poolRequest

	once sync.Once
}

func (p *Pool) wrapResponseBody(pr *poolRequest, inner message.ByteStream) message.ByteStream {
	return &pooledBody{inner: inner, pool: p, pr: pr}
}

func (b *pooledBody) Next() ([]byte, error) {
	return b.inner.Next()
}

func (b *pooledBody) Close() error {
	err := b.inner.Close()
	b.once.Do(func() {
		b.pool.removeAndReassign(b.pr)
	})
	return err
}
