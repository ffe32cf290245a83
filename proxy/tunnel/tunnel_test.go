package tunnel_test

import (
	"context"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/internal/fakebackend"
	"github.com/sabouaram/httpcore/message"
	"github.com/sabouaram/httpcore/proxy/tunnel"
)

func TestTunnel(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "tunnel Suite")
}

var (
	proxyOrigin  = message.Origin{Scheme: "http", Host: "proxy.test", Port: 8080}
	remoteOrigin = message.Origin{Scheme: "http", Host: "remote.test", Port: 8443}
)

func plainReq() *message.Request {
	port := 8443
	return &message.Request{Method: "GET", URL: message.URL{Scheme: "http", Host: "remote.test", Port: &port, Target: "/"}}
}

var _ = Describe("Conn", func() {
	It("issues CONNECT for the remote host:port and hands the leftover bytes to the HTTP/1.1 engine", func() {
		stream := fakebackend.NewStream(
			[]byte("HTTP/1.1 200 Connection Established\r\n\r\n"),
			[]byte("HTTP/1.1 204 No Content\r\n\r\n"),
		)
		be := fakebackend.NewBackend(stream)
		c := tunnel.New(tunnel.Options{
			Remote: remoteOrigin, ProxyOrigin: proxyOrigin,
			Backend: be, HTTP1: true,
		})

		resp, err := c.HandleRequest(context.Background(), plainReq())
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(204))

		sent := string(stream.Written())
		Expect(sent).To(HavePrefix("CONNECT remote.test:8443 HTTP/1.1\r\n"))
	})

	It("sends Proxy-Authorization when BasicAuth is configured", func() {
		stream := fakebackend.NewStream([]byte("HTTP/1.1 200 OK\r\n\r\n"))
		be := fakebackend.NewBackend(stream)
		c := tunnel.New(tunnel.Options{
			Remote: remoteOrigin, ProxyOrigin: proxyOrigin,
			ProxyAuth: &tunnel.BasicAuth{Username: "user", Password: "pass"},
			Backend:   be, HTTP1: true,
		})

		stream.Feed([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
		_, err := c.HandleRequest(context.Background(), plainReq())
		Expect(err).NotTo(HaveOccurred())

		Expect(string(stream.Written())).To(ContainSubstring("Proxy-Authorization: Basic"))
	})

	It("fails with a ProxyError when the proxy rejects the CONNECT", func() {
		stream := fakebackend.NewStream([]byte("HTTP/1.1 407 Proxy Authentication Required\r\n\r\n"))
		be := fakebackend.NewBackend(stream)
		c := tunnel.New(tunnel.Options{
			Remote: remoteOrigin, ProxyOrigin: proxyOrigin,
			Backend: be, HTTP1: true,
		})

		_, err := c.HandleRequest(context.Background(), plainReq())
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.ProxyError)).To(BeTrue())
		Expect(c.IsClosed()).To(BeTrue())
	})

	It("reuses the negotiated engine on a second request without reissuing CONNECT", func() {
		stream := fakebackend.NewStream(
			[]byte("HTTP/1.1 200 Connection Established\r\n\r\n"),
			[]byte("HTTP/1.1 204 No Content\r\n\r\n"),
			[]byte("HTTP/1.1 204 No Content\r\n\r\n"),
		)
		be := fakebackend.NewBackend(stream)
		c := tunnel.New(tunnel.Options{
			Remote: remoteOrigin, ProxyOrigin: proxyOrigin,
			Backend: be, HTTP1: true,
		})

		_, err := c.HandleRequest(context.Background(), plainReq())
		Expect(err).NotTo(HaveOccurred())
		_, err = c.HandleRequest(context.Background(), plainReq())
		Expect(err).NotTo(HaveOccurred())

		sent := string(stream.Written())
		Expect(strings.Count(sent, "CONNECT remote.test:8443")).To(Equal(1))
	})

	It("rejects HandleRequest once closed, without attempting to reconnect", func() {
		be := fakebackend.NewBackend()
		c := tunnel.New(tunnel.Options{Remote: remoteOrigin, ProxyOrigin: proxyOrigin, Backend: be, HTTP1: true})
		Expect(c.Close()).To(Succeed())

		_, err := c.HandleRequest(context.Background(), plainReq())
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.ConnectionNotAvailable)).To(BeTrue())
	})
})
