package config_test

import (
	"bytes"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/sabouaram/httpcore/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "config Suite")
}

func viperFrom(yaml string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	_ = v.ReadConfig(bytes.NewBufferString(yaml))
	return v
}

var _ = Describe("Default", func() {
	It("enables HTTP/1.1 and a 10-connection pool with no proxy", func() {
		cfg := config.Default()
		Expect(cfg.MaxConnections).To(Equal(10))
		Expect(cfg.HTTP1).To(BeTrue())
		Expect(cfg.HTTP2).To(BeFalse())
		Expect(cfg.Proxy.Kind).To(Equal(config.ProxyKindNone))
	})
})

var _ = Describe("Load", func() {
	It("rejects a nil viper instance", func() {
		_, err := config.Load(nil, "http_pool")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a missing config key", func() {
		v := viperFrom("other_key:\n  foo: 1\n")
		_, err := config.Load(v, "http_pool")
		Expect(err).To(HaveOccurred())
	})

	It("unmarshals and validates a well-formed pool config", func() {
		v := viperFrom(`
http_pool:
  max_connections: 5
  http1: true
  http2: true
  retries: 3
`)
		cfg, err := config.Load(v, "http_pool")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.MaxConnections).To(Equal(5))
		Expect(cfg.HTTP2).To(BeTrue())
		Expect(cfg.Retries).To(Equal(3))
	})

	It("rejects max_connections below 1", func() {
		v := viperFrom(`
http_pool:
  max_connections: 0
`)
		_, err := config.Load(v, "http_pool")
		Expect(err).To(HaveOccurred())
	})

	It("rejects a negative retries count", func() {
		v := viperFrom(`
http_pool:
  max_connections: 1
  retries: -1
`)
		_, err := config.Load(v, "http_pool")
		Expect(err).To(HaveOccurred())
	})

	It("requires proxy.url once proxy.kind is set", func() {
		v := viperFrom(`
http_pool:
  max_connections: 1
  proxy:
    kind: http
`)
		_, err := config.Load(v, "http_pool")
		Expect(err).To(HaveOccurred())
	})

	It("accepts a proxy config with a kind, url and auth", func() {
		v := viperFrom(`
http_pool:
  max_connections: 1
  proxy:
    kind: socks5
    url: socks5://proxy.test:1080
    auth:
      username: user
      password: pass
`)
		cfg, err := config.Load(v, "http_pool")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Proxy.Kind).To(Equal(config.ProxyKindSOCKS5))
		Expect(cfg.Proxy.Auth.Username).To(Equal("user"))
	})

	It("rejects an unknown proxy kind", func() {
		v := viperFrom(`
http_pool:
  max_connections: 1
  proxy:
    kind: ftp
    url: ftp://proxy.test
`)
		_, err := config.Load(v, "http_pool")
		Expect(err).To(HaveOccurred())
	})
})
