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

// Package duration provides a time.Duration wrapper that marshals as a
// fractional-seconds float, matching how spec-level timeouts
// (extensions.timeout.{connect,read,write,pool}) and pool config
// (keepalive_expiry) are expressed. Trimmed down from a much larger
// duration package (JSON/YAML/TOML/CBOR round-tripping, ranges, ISO-8601
// formatting) down to the subset httpcore actually needs: parsing,
// formatting and float64-seconds conversion.
package duration

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that (de)serializes as fractional seconds.
type Duration time.Duration

// Zero is the zero-value Duration (no timeout / immediate expiry).
const Zero Duration = 0

// Seconds builds a Duration from a whole number of seconds.
func Seconds(s int64) Duration { return Duration(time.Duration(s) * time.Second) }

// FromFloat64 builds a Duration from fractional seconds, as used by
// extensions.timeout values.
func FromFloat64(f float64) Duration { return Duration(f * float64(time.Second)) }

// FromTime wraps a stdlib time.Duration.
func FromTime(d time.Duration) Duration { return Duration(d) }

// Time returns the underlying time.Duration.
func (d Duration) Time() time.Duration { return time.Duration(d) }

// Float64 returns the duration as fractional seconds.
func (d Duration) Float64() float64 { return float64(d) / float64(time.Second) }

// IsZero reports whether this duration is exactly zero.
func (d Duration) IsZero() bool { return d == 0 }

// String renders the duration the way time.Duration does.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON renders the duration as fractional seconds, e.g. 0.5.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Float64())
}

// UnmarshalJSON accepts either a JSON number (seconds) or a Go duration
// string ("500ms"), mirroring the flexibility of the original duration
// type so pool config files can use either form.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = FromFloat64(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration: cannot unmarshal %s", string(b))
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = FromTime(parsed)
	return nil
}
