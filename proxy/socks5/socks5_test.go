package socks5_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/internal/fakebackend"
	"github.com/sabouaram/httpcore/message"
	"github.com/sabouaram/httpcore/proxy/socks5"
)

func TestSocks5(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "socks5 Suite")
}

var (
	proxyOrigin  = message.Origin{Scheme: "http", Host: "proxy.test", Port: 1080}
	remoteOrigin = message.Origin{Scheme: "http", Host: "remote.test", Port: 8000}
)

func plainReq() *message.Request {
	port := 8000
	return &message.Request{Method: "GET", URL: message.URL{Scheme: "http", Host: "remote.test", Port: &port, Target: "/"}}
}

var _ = Describe("Conn", func() {
	It("completes a no-auth handshake and hands the raw socket to the HTTP/1.1 engine", func() {
		reply := []byte{0x05, 0x00}                            // method select: no auth
		reply = append(reply, 0x05, 0x00, 0x00, 0x01)          // CONNECT reply head: succeeded, IPv4 bound addr
		reply = append(reply, 0, 0, 0, 0, 0, 0)                // bound address + port, drained
		reply = append(reply, []byte("HTTP/1.1 204 No Content\r\n\r\n")...)
		stream := fakebackend.NewStream(reply)
		be := fakebackend.NewBackend(stream)

		c := socks5.New(socks5.Options{Remote: remoteOrigin, ProxyOrigin: proxyOrigin, Backend: be, HTTP1: true})
		resp, err := c.HandleRequest(context.Background(), plainReq())
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(204))

		sent := stream.Written()
		Expect(sent[0]).To(Equal(byte(0x05)))
		Expect(sent[1]).To(Equal(byte(0x01))) // one method offered: no-auth
		Expect(sent[2]).To(Equal(byte(0x00)))
	})

	It("performs username/password sub-negotiation when the proxy selects it", func() {
		reply := []byte{0x05, 0x02}        // method select: username/password
		reply = append(reply, 0x01, 0x00)  // auth succeeded
		reply = append(reply, 0x05, 0x00, 0x00, 0x01)
		reply = append(reply, 0, 0, 0, 0, 0, 0)
		reply = append(reply, []byte("HTTP/1.1 204 No Content\r\n\r\n")...)
		stream := fakebackend.NewStream(reply)
		be := fakebackend.NewBackend(stream)

		c := socks5.New(socks5.Options{
			Remote: remoteOrigin, ProxyOrigin: proxyOrigin,
			Auth:    &socks5.Auth{Username: "user", Password: "pass"},
			Backend: be, HTTP1: true,
		})
		_, err := c.HandleRequest(context.Background(), plainReq())
		Expect(err).NotTo(HaveOccurred())

		sent := stream.Written()
		Expect(sent[0]).To(Equal(byte(0x05)))
		Expect(sent[1]).To(Equal(byte(0x02))) // two methods offered: no-auth, then user/pass
	})

	It("fails with a ProxyError when credentials are rejected", func() {
		reply := []byte{0x05, 0x02}
		reply = append(reply, 0x01, 0x01) // auth failed
		stream := fakebackend.NewStream(reply)
		be := fakebackend.NewBackend(stream)

		c := socks5.New(socks5.Options{
			Remote: remoteOrigin, ProxyOrigin: proxyOrigin,
			Auth:    &socks5.Auth{Username: "user", Password: "wrong"},
			Backend: be, HTTP1: true,
		})
		_, err := c.HandleRequest(context.Background(), plainReq())
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.ProxyError)).To(BeTrue())
	})

	It("fails with a ProxyError when the CONNECT command is rejected", func() {
		reply := []byte{0x05, 0x00}
		reply = append(reply, 0x05, 0x05, 0x00, 0x01) // connection refused
		reply = append(reply, 0, 0, 0, 0, 0, 0)
		stream := fakebackend.NewStream(reply)
		be := fakebackend.NewBackend(stream)

		c := socks5.New(socks5.Options{Remote: remoteOrigin, ProxyOrigin: proxyOrigin, Backend: be, HTTP1: true})
		_, err := c.HandleRequest(context.Background(), plainReq())
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.ProxyError)).To(BeTrue())
		Expect(c.IsClosed()).To(BeTrue())
	})

	It("fails when the proxy selects a method the client never offered", func() {
		reply := []byte{0x05, 0x02} // proxy insists on username/password
		stream := fakebackend.NewStream(reply)
		be := fakebackend.NewBackend(stream)

		c := socks5.New(socks5.Options{Remote: remoteOrigin, ProxyOrigin: proxyOrigin, Backend: be, HTTP1: true})
		_, err := c.HandleRequest(context.Background(), plainReq())
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.ProxyError)).To(BeTrue())
		Expect(stream.Written()).To(HaveLen(3)) // only the initial greeting was sent
	})
})
