package httpcore_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/httpcore"
	"github.com/sabouaram/httpcore/internal/fakebackend"
	"github.com/sabouaram/httpcore/message"
)

func TestHTTPCore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "httpcore Suite")
}

var _ = Describe("NewPool", func() {
	It("serves a direct request and returns the connection to the pool on body close", func() {
		stream := fakebackend.NewStream([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
		be := fakebackend.NewBackend(stream)
		p := httpcore.NewPool(httpcore.Options{Backend: be, HTTP1: true, MaxConnections: 5})
		defer p.Close()

		req := &message.Request{Method: "GET", URL: message.URL{Scheme: "http", Host: "example.test", Target: "/"}}
		resp, err := p.HandleRequest(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(200))

		body, err := message.ReadAll(resp.Stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("ok"))

		Expect(p.Connections()).To(HaveLen(1))
		Expect(p.Connections()[0].IsIdle()).To(BeTrue())
	})
})

var _ = Describe("NewHTTPProxy", func() {
	It("forwards a plaintext origin through the shared proxy connection", func() {
		stream := fakebackend.NewStream([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
		be := fakebackend.NewBackend(stream)
		proxyURL := message.URL{Scheme: "http", Host: "proxy.test", Target: "/"}
		port := 3128
		proxyURL.Port = &port

		p := httpcore.NewHTTPProxy(httpcore.HTTPProxyOptions{
			Options:  httpcore.Options{Backend: be, HTTP1: true, MaxConnections: 5},
			ProxyURL: proxyURL,
		})
		defer p.Close()

		req := &message.Request{Method: "GET", URL: message.URL{Scheme: "http", Host: "origin.test", Target: "/"}}
		resp, err := p.HandleRequest(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(200))

		sent := string(stream.Written())
		Expect(sent).To(ContainSubstring("http://origin.test/"))
	})
})

var _ = Describe("NewSOCKSProxy", func() {
	It("completes a SOCKS5 handshake before serving the request", func() {
		reply := []byte{0x05, 0x00}
		reply = append(reply, 0x05, 0x00, 0x00, 0x01)
		reply = append(reply, 0, 0, 0, 0, 0, 0)
		reply = append(reply, []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")...)
		stream := fakebackend.NewStream(reply)
		be := fakebackend.NewBackend(stream)

		proxyURL := message.URL{Scheme: "socks5", Host: "proxy.test", Target: "/"}
		port := 1080
		proxyURL.Port = &port

		p := httpcore.NewSOCKSProxy(httpcore.SOCKSProxyOptions{
			Options:  httpcore.Options{Backend: be, HTTP1: true, MaxConnections: 5},
			ProxyURL: proxyURL,
		})
		defer p.Close()

		req := &message.Request{Method: "GET", URL: message.URL{Scheme: "http", Host: "origin.test", Target: "/"}}
		resp, err := p.HandleRequest(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(200))
	})
})
