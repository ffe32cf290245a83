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

// Package errors provides the error classification used across the httpcore
// modules: a numeric CodeError (similar in spirit to an HTTP status code),
// a per-package message registry, and an Error type that keeps a parent
// chain so a protocol failure can be traced back to the network error that
// triggered it, while staying compatible with errors.Is / errors.As.
package errors

import (
	"sort"
	"strconv"
)

// CodeError is a numeric classification for an Error. Each module of
// httpcore reserves a contiguous block (see MinPkg* constants below) so
// that codes never collide across packages.
type CodeError uint16

const (
	UnknownError  CodeError = 0
	UnknownMessage          = "unknown error"
)

// Per-module code blocks, one contiguous range per package.
const (
	MinPkgMessage    CodeError = 100
	MinPkgBackend    CodeError = 200
	MinPkgSyncx      CodeError = 300
	MinPkgHTTP1      CodeError = 400
	MinPkgHTTP2      CodeError = 500
	MinPkgConnection CodeError = 600
	MinPkgPool       CodeError = 700
	MinPkgProxy      CodeError = 800
	MinPkgSocks5     CodeError = 900
	MinPkgConfig     CodeError = 1000

	MinAvailable CodeError = 2000
)

// Message is a function producing the human-readable text for a CodeError.
type Message func(code CodeError) string

var registry = make(map[CodeError]Message)

// RegisterFctMessage registers msg as the message source for every code from
// min up to the next registered block that msg can answer for. Packages call
// this once from an init() with their own MinPkg* constant.
func RegisterFctMessage(min CodeError, msg Message) {
	registry[min] = msg
}

func (c CodeError) Uint16() uint16 { return uint16(c) }

func (c CodeError) Int() int { return int(c) }

func (c CodeError) String() string { return strconv.Itoa(c.Int()) }

// Message resolves the text registered for c by scanning down from c to the
// nearest registered block boundary.
func (c CodeError) Message() string {
	if c == UnknownError {
		return UnknownMessage
	}

	blocks := make([]CodeError, 0, len(registry))
	for b := range registry {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] > blocks[j] })

	for _, b := range blocks {
		if c >= b {
			if m := registry[b](c); m != "" {
				return m
			}
			break
		}
	}

	return UnknownMessage
}

// Error builds a new Error carrying this code, optionally wrapping parents.
func (c CodeError) Error(parents ...error) Error {
	return newError(c, c.Message(), parents...)
}

// Errorf builds a new Error with a formatted message instead of the
// registered one, still carrying the code for IsCode/HasCode matching.
func (c CodeError) Errorf(format string, args ...interface{}) Error {
	return newErrorf(c, format, args...)
}
