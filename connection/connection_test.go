package connection_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/httpcore/connection"
	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/internal/fakebackend"
	"github.com/sabouaram/httpcore/message"
)

func TestConnection(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "connection Suite")
}

var plainOrigin = message.Origin{Scheme: "http", Host: "example.test", Port: 80}

func plainRequest() *message.Request {
	return &message.Request{Method: "GET", URL: message.URL{Scheme: "http", Host: "example.test", Target: "/"}}
}

var _ = Describe("Conn", func() {
	It("fails a request targeting a different origin without dialing", func() {
		be := fakebackend.NewBackend()
		c := connection.New(plainOrigin, connection.Options{Backend: be, HTTP1: true})

		req := &message.Request{Method: "GET", URL: message.URL{Scheme: "http", Host: "other.test", Target: "/"}}
		_, err := c.HandleRequest(context.Background(), req)
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.LocalProtocolError)).To(BeTrue())
		Expect(be.Sleeps()).To(BeEmpty())
	})

	It("retries a failing connect with doubling backoff before giving up", func() {
		be := fakebackend.NewBackend()
		be.QueueError(liberr.ConnectError.Error())
		be.QueueError(liberr.ConnectError.Error())
		be.QueueError(liberr.ConnectError.Error())
		c := connection.New(plainOrigin, connection.Options{Backend: be, HTTP1: true, Retries: 2})

		_, err := c.HandleRequest(context.Background(), plainRequest())
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.ConnectError)).To(BeTrue())

		Expect(be.Sleeps()).To(Equal([]time.Duration{
			0,
			500 * time.Millisecond,
		}))
		Expect(c.Attempts()).To(Equal(3))
	})

	It("succeeds on a later attempt without consuming further retries", func() {
		stream := fakebackend.NewStream([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
		be := fakebackend.NewBackend()
		be.QueueError(liberr.ConnectError.Error())
		be.QueueStream(stream)
		c := connection.New(plainOrigin, connection.Options{Backend: be, HTTP1: true, Retries: 3})

		resp, err := c.HandleRequest(context.Background(), plainRequest())
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(200))
		Expect(be.Sleeps()).To(Equal([]time.Duration{0}))
		Expect(c.Attempts()).To(Equal(2))
	})

	It("does not retry a non-retryable connect failure", func() {
		be := fakebackend.NewBackend()
		be.QueueError(liberr.LocalProtocolError.Error())
		c := connection.New(plainOrigin, connection.Options{Backend: be, HTTP1: true, Retries: 5})

		_, err := c.HandleRequest(context.Background(), plainRequest())
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.LocalProtocolError)).To(BeTrue())
		Expect(be.Sleeps()).To(BeEmpty())
		Expect(c.Attempts()).To(Equal(1))
	})

	It("reuses the negotiated engine across requests instead of reconnecting", func() {
		stream := fakebackend.NewStream(
			[]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"),
			[]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"),
		)
		be := fakebackend.NewBackend(stream)
		c := connection.New(plainOrigin, connection.Options{Backend: be, HTTP1: true})

		_, err := c.HandleRequest(context.Background(), plainRequest())
		Expect(err).NotTo(HaveOccurred())
		_, err = c.HandleRequest(context.Background(), plainRequest())
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Attempts()).To(Equal(1))
	})

	It("reports PENDING before connecting and the closed state after Close", func() {
		be := fakebackend.NewBackend()
		c := connection.New(plainOrigin, connection.Options{Backend: be, HTTP1: true})
		Expect(c.Info()).To(ContainSubstring("PENDING"))

		Expect(c.Close()).To(Succeed())
		Expect(c.IsClosed()).To(BeTrue())
		Expect(c.IsAvailable()).To(BeFalse())
	})

	It("rejects HandleRequest once closed without attempting to connect", func() {
		be := fakebackend.NewBackend()
		c := connection.New(plainOrigin, connection.Options{Backend: be, HTTP1: true})
		Expect(c.Close()).To(Succeed())

		_, err := c.HandleRequest(context.Background(), plainRequest())
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.ConnectionNotAvailable)).To(BeTrue())
	})
})
