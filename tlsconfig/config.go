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

// Package tlsconfig builds the trust/verification context the backend's
// StartTLS consumes: the core only consumes a negotiated ALPN
// configured trust/verification context and an ALPN-selected protocol
// identifier. Trimmed down from a much larger certificates
// package (which models curves/ciphers/client-auth/root-CA bundles as
// their own sub-packages for a full TLS *server*); httpcore only needs
// the client-side trust bundle and ALPN list, so those sub-packages
// (auth, ca, certs, cipher, curves, tlsversion) are not ported — see
// DESIGN.md.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	libval "github.com/go-playground/validator/v10"
)

// Config is the user-facing, validatable TLS configuration for a pool.
type Config struct {
	RootCAFiles        []string `validate:"dive,file"`
	InsecureSkipVerify bool
	MinVersion         uint16
	MaxVersion         uint16
}

// Validate checks that every RootCAFiles entry names an existing file:
// run go-playground/validator over the struct tags and fold any failures
// into a single error. MinVersion and MaxVersion are not checked.
func (c *Config) Validate() error {
	if err := libval.New().Struct(c); err != nil {
		if verrs, ok := err.(libval.ValidationErrors); ok {
			return fmt.Errorf("tlsconfig: %d field(s) failed validation: %s", len(verrs), verrs.Error())
		}
		return err
	}
	return nil
}

// Build renders a *tls.Config for ALPN-negotiated "h2"/"http/1.1" clients.
// alpnHTTP2 controls whether "h2" is offered (only offered
// "alongside http1" when both protocols are enabled on the pool).
func (c *Config) Build(alpnHTTP2 bool) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		MinVersion:         c.MinVersion,
		MaxVersion:         c.MaxVersion,
	}

	if alpnHTTP2 {
		cfg.NextProtos = []string{"h2", "http/1.1"}
	} else {
		cfg.NextProtos = []string{"http/1.1"}
	}

	if len(c.RootCAFiles) > 0 {
		pool := x509.NewCertPool()
		for _, f := range c.RootCAFiles {
			if err := addPEMFile(pool, f); err != nil {
				return nil, err
			}
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func addPEMFile(pool *x509.CertPool, path string) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("tlsconfig: no certificates found in %s", path)
	}
	return nil
}

// NegotiatedHTTP2 inspects a completed TLS handshake's negotiated ALPN
// protocol and reports whether it selected HTTP/2 ("h2" =>
// HTTP/2, else HTTP/1.1).
func NegotiatedHTTP2(state *tls.ConnectionState) bool {
	return state != nil && state.NegotiatedProtocol == "h2"
}
