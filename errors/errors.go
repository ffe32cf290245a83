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

import (
	"errors"
	"fmt"
	"strings"
)

// Error extends the standard error with a CodeError classification and an
// optional parent chain, so a caller can ask "was this a connect error"
// without string-matching and still unwrap down to the underlying network
// or syscall error with errors.Is / errors.As.
type Error interface {
	error

	// Code returns this error's own code.
	Code() CodeError
	// IsCode reports whether this error's own code equals c.
	IsCode(c CodeError) bool
	// HasCode reports whether this error or any parent has code c.
	HasCode(c CodeError) bool
	// Add appends parents to the chain.
	Add(parents ...error) Error
	// Unwrap exposes the first parent for errors.Is/errors.As.
	Unwrap() error
}

type crErr struct {
	code    CodeError
	message string
	parents []error
}

func newError(code CodeError, message string, parents ...error) Error {
	return &crErr{code: code, message: message, parents: filterNil(parents)}
}

func newErrorf(code CodeError, format string, args ...interface{}) Error {
	return &crErr{code: code, message: fmt.Sprintf(format, args...)}
}

func filterNil(in []error) []error {
	out := make([]error, 0, len(in))
	for _, e := range in {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (e *crErr) Error() string {
	if len(e.parents) == 0 {
		return e.message
	}

	parts := make([]string, 0, len(e.parents)+1)
	parts = append(parts, e.message)
	for _, p := range e.parents {
		parts = append(parts, p.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *crErr) Code() CodeError { return e.code }

func (e *crErr) IsCode(c CodeError) bool { return e.code == c }

func (e *crErr) HasCode(c CodeError) bool {
	if e.code == c {
		return true
	}
	for _, p := range e.parents {
		var ce Error
		if errors.As(p, &ce) && ce.HasCode(c) {
			return true
		}
	}
	return false
}

func (e *crErr) Add(parents ...error) Error {
	e.parents = append(e.parents, filterNil(parents)...)
	return e
}

func (e *crErr) Unwrap() error {
	if len(e.parents) == 0 {
		return nil
	}
	return e.parents[0]
}

// Is reports whether err (or anything in its chain) carries code c.
func Is(err error, c CodeError) bool {
	var ce Error
	if errors.As(err, &ce) {
		return ce.HasCode(c)
	}
	return false
}
