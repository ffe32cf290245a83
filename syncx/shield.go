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

package syncx

import "context"

// Shield runs cleanup in a detached goroutine so that cancellation of ctx
// cannot interrupt it partway through, then joins before returning:
// cleanup must run to completion before the caller's own cancellation is
// allowed to propagate. Go has no built-in cancellation-masking primitive,
// so the shield is implemented
// by detaching onto context.Background() and blocking the caller on a
// done channel — the caller's own cancellation cannot abort cleanup, only
// delay the caller noticing it finished.
func Shield(cleanup func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		cleanup()
	}()
	<-done
}

// ShieldCtx is like Shield but gives cleanup a background-derived context
// instead of void, for cleanup steps that themselves need to do bounded
// network I/O (e.g. closing a TLS connection) regardless of the caller's
// own context having already been cancelled.
func ShieldCtx(cleanup func(ctx context.Context)) {
	Shield(func() { cleanup(context.Background()) })
}
