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

// Package config loads a Pool's settings from a viper-backed source
// (file, env, flags), the same shape the config/components/httpcli
// component builds from a registered viper key: unmarshal into a
// validatable struct, then hand the result to httpcore.NewPool /
// NewHTTPProxy / NewSOCKSProxy.
package config

import (
	"fmt"

	libval "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/sabouaram/httpcore/duration"
)

// ProxyKind selects which of the three pool constructors PoolConfig
// describes.
type ProxyKind string

const (
	ProxyKindNone   ProxyKind = ""
	ProxyKindHTTP   ProxyKind = "http"
	ProxyKindSOCKS5 ProxyKind = "socks5"
)

// ProxyAuthConfig is a username/password pair for proxy authentication.
type ProxyAuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// PoolConfig is the user-facing, validatable configuration for a Pool, a
// flattened mirror of httpcore.Options plus the proxy settings that pick
// between NewPool, NewHTTPProxy and NewSOCKSProxy.
type PoolConfig struct {
	MaxConnections          int                `mapstructure:"max_connections" validate:"gte=1"`
	MaxKeepAliveConnections *int               `mapstructure:"max_keepalive_connections" validate:"omitempty,gte=0"`
	KeepAliveExpiry         duration.Duration  `mapstructure:"keepalive_expiry"`
	HTTP1                   bool               `mapstructure:"http1"`
	HTTP2                   bool               `mapstructure:"http2"`
	Retries                 int                `mapstructure:"retries" validate:"gte=0"`
	LocalAddr               string             `mapstructure:"local_address"`
	UDSPath                 string             `mapstructure:"uds"`

	Proxy ProxyConfig `mapstructure:"proxy"`
}

// ProxyConfig describes an optional forward/tunnel or SOCKS5 proxy hop in
// front of the pool's direct connections.
type ProxyConfig struct {
	Kind     ProxyKind        `mapstructure:"kind" validate:"omitempty,oneof=http socks5"`
	URL      string           `mapstructure:"url" validate:"omitempty,url"`
	Auth     *ProxyAuthConfig `mapstructure:"auth"`
	Headers  map[string]string `mapstructure:"headers"`
}

// Validate runs go-playground/validator over the struct tags, folding any
// failures into a single error, the same shape
// config/components/httpcli's _getConfig uses after UnmarshalKey.
func (c *PoolConfig) Validate() error {
	if err := libval.New().Struct(c); err != nil {
		if verrs, ok := err.(libval.ValidationErrors); ok {
			return fmt.Errorf("config: %d field(s) failed validation: %s", len(verrs), verrs.Error())
		}
		return err
	}
	if c.Proxy.Kind != ProxyKindNone && c.Proxy.URL == "" {
		return fmt.Errorf("config: proxy.url is required when proxy.kind is set")
	}
	return nil
}

// Load reads key from v (e.g. the "http_pool" top-level key of a loaded
// viper.Viper) into a PoolConfig and validates it.
func Load(v *viper.Viper, key string) (*PoolConfig, error) {
	if v == nil {
		return nil, fmt.Errorf("config: nil viper instance")
	}
	if !v.IsSet(key) {
		return nil, fmt.Errorf("config: missing config key %q", key)
	}

	cfg := Default()
	if err := v.UnmarshalKey(key, cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal key %q: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a PoolConfig matching the documented defaults: 10
// connections, HTTP/1.1 only, no retries, no proxy.
func Default() *PoolConfig {
	return &PoolConfig{
		MaxConnections: 10,
		HTTP1:          true,
	}
}
