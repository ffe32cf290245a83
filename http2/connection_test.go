package http2_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/httpcore/http2"
	"github.com/sabouaram/httpcore/internal/fakebackend"
	"github.com/sabouaram/httpcore/message"
)

var h2Origin = message.Origin{Scheme: "https", Host: "example.test", Port: 443}

func h2Request() *message.Request {
	return &message.Request{
		Method: "GET",
		URL:    message.URL{Scheme: "https", Host: "example.test", Target: "/"},
	}
}

var _ = Describe("Conn", func() {
	It("carries two requests over a single connection, incrementing request_count", func() {
		server := newServerFramer().headers(1, "200", true)
		stream := fakebackend.NewStream(server.bytes())
		conn := http2.NewConn(h2Origin, stream, time.Minute)

		resp1, err := conn.HandleRequest(context.Background(), h2Request())
		Expect(err).NotTo(HaveOccurred())
		Expect(resp1.Status).To(Equal(200))
		Expect(resp1.Extensions.StreamID).To(Equal(1))

		Expect(conn.IsIdle()).To(BeTrue())
		Expect(conn.Info()).To(ContainSubstring("Request Count: 1"))

		server2 := newServerFramer().headers(3, "200", true)
		stream.Feed(server2.bytes())

		resp2, err := conn.HandleRequest(context.Background(), h2Request())
		Expect(err).NotTo(HaveOccurred())
		Expect(resp2.Extensions.StreamID).To(Equal(3))

		Expect(conn.Info()).To(ContainSubstring("Request Count: 2"))
		Expect(conn.IsClosed()).To(BeFalse())
	})

	It("streams a response body across multiple DATA frames", func() {
		server := newServerFramer().
			headers(1, "200", false).
			data(1, []byte("hello, "), false).
			data(1, []byte("world"), true)
		stream := fakebackend.NewStream(server.bytes())
		conn := http2.NewConn(h2Origin, stream, time.Minute)

		resp, err := conn.HandleRequest(context.Background(), h2Request())
		Expect(err).NotTo(HaveOccurred())

		body, err := message.ReadAll(resp.Stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("hello, world"))
	})

	It("closes the connection once GOAWAY arrives and the in-flight stream finishes", func() {
		server := newServerFramer().
			headers(1, "200", true).
			goAway(1)
		stream := fakebackend.NewStream(server.bytes())
		conn := http2.NewConn(h2Origin, stream, time.Minute)

		resp, err := conn.HandleRequest(context.Background(), h2Request())
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(200))

		Expect(conn.IsAvailable()).To(BeFalse())
		Expect(conn.IsClosed()).To(BeTrue())
		Expect(stream.Closed()).To(BeTrue())
	})
})
