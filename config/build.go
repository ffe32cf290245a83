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

package config

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"github.com/sabouaram/httpcore"
	"github.com/sabouaram/httpcore/message"
)

// Build turns a validated PoolConfig into a running httpcore.Pool, picking
// NewPool, NewHTTPProxy or NewSOCKSProxy from cfg.Proxy.Kind.
func Build(cfg *PoolConfig, log hclog.Logger) (*httpcore.Pool, error) {
	opts := httpcore.Options{
		MaxConnections:          cfg.MaxConnections,
		MaxKeepAliveConnections: cfg.MaxKeepAliveConnections,
		KeepAliveExpiry:         cfg.KeepAliveExpiry.Time(),
		HTTP1:                   cfg.HTTP1,
		HTTP2:                   cfg.HTTP2,
		Retries:                 cfg.Retries,
		LocalAddr:               cfg.LocalAddr,
		UDSPath:                 cfg.UDSPath,
		Logger:                  log,
	}

	switch cfg.Proxy.Kind {
	case ProxyKindNone:
		return httpcore.NewPool(opts), nil

	case ProxyKindHTTP:
		proxyOrigin, err := parseProxyURL(cfg.Proxy.URL)
		if err != nil {
			return nil, err
		}
		return httpcore.NewHTTPProxy(httpcore.HTTPProxyOptions{
			Options:      opts,
			ProxyURL:     proxyOrigin,
			ProxyAuth:    proxyAuthOf(cfg.Proxy.Auth),
			ProxyHeaders: headersOf(cfg.Proxy.Headers),
		}), nil

	case ProxyKindSOCKS5:
		proxyOrigin, err := parseProxyURL(cfg.Proxy.URL)
		if err != nil {
			return nil, err
		}
		return httpcore.NewSOCKSProxy(httpcore.SOCKSProxyOptions{
			Options:   opts,
			ProxyURL:  proxyOrigin,
			ProxyAuth: proxyAuthOf(cfg.Proxy.Auth),
		}), nil

	default:
		return nil, fmt.Errorf("config: unknown proxy kind %q", cfg.Proxy.Kind)
	}
}

func parseProxyURL(raw string) (message.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return message.URL{}, fmt.Errorf("config: invalid proxy url %q: %w", raw, err)
	}

	var port *int
	if p := u.Port(); p != "" {
		n, perr := strconv.Atoi(p)
		if perr != nil {
			return message.URL{}, fmt.Errorf("config: invalid proxy port %q: %w", p, perr)
		}
		port = &n
	}

	return message.URL{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
	}, nil
}

func proxyAuthOf(a *ProxyAuthConfig) *httpcore.ProxyAuth {
	if a == nil {
		return nil
	}
	return &httpcore.ProxyAuth{Username: a.Username, Password: a.Password}
}

func headersOf(m map[string]string) message.Headers {
	if len(m) == 0 {
		return nil
	}
	out := make(message.Headers, 0, len(m))
	for k, v := range m {
		out = out.Set(k, v)
	}
	return out
}
