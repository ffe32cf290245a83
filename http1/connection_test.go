package http1_test

import (
	"context"
	"io"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/http1"
	"github.com/sabouaram/httpcore/internal/fakebackend"
	"github.com/sabouaram/httpcore/message"
)

var testOrigin = message.Origin{Scheme: "http", Host: "example.test", Port: 80}

func getRequest() *message.Request {
	return &message.Request{
		Method: "GET",
		URL:    message.URL{Scheme: "http", Host: "example.test", Target: "/"},
	}
}

var _ = Describe("Conn", func() {
	It("reuses the connection across two keep-alive requests", func() {
		stream := fakebackend.NewStream(
			[]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"),
			[]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"),
		)
		conn := http1.NewConn(testOrigin, stream, time.Minute)

		resp1, err := conn.HandleRequest(context.Background(), getRequest())
		Expect(err).NotTo(HaveOccurred())
		Expect(resp1.Status).To(Equal(200))
		body1, err := message.ReadAll(resp1.Stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body1)).To(Equal("hi"))

		Expect(conn.IsAvailable()).To(BeTrue())

		resp2, err := conn.HandleRequest(context.Background(), getRequest())
		Expect(err).NotTo(HaveOccurred())
		body2, err := message.ReadAll(resp2.Stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body2)).To(Equal("hello"))

		Expect(conn.IsClosed()).To(BeFalse())
		Expect(stream.Closed()).To(BeFalse())
	})

	It("closes the connection after a response carrying Connection: close", func() {
		stream := fakebackend.NewStream(
			[]byte("HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nok"),
		)
		conn := http1.NewConn(testOrigin, stream, time.Minute)

		resp, err := conn.HandleRequest(context.Background(), getRequest())
		Expect(err).NotTo(HaveOccurred())
		_, err = message.ReadAll(resp.Stream)
		Expect(err).NotTo(HaveOccurred())

		Expect(conn.IsClosed()).To(BeTrue())
		Expect(stream.Closed()).To(BeTrue())
	})

	It("rejects a response head past the 100KiB header bound", func() {
		var head strings.Builder
		head.WriteString("HTTP/1.1 200 OK\r\n")
		// One oversized header line blows well past the 100KiB bound on its own.
		head.WriteString("X-Pad: ")
		head.WriteString(strings.Repeat("a", 110*1024))
		head.WriteString("\r\n\r\n")

		stream := fakebackend.NewStream([]byte(head.String()))
		conn := http1.NewConn(testOrigin, stream, time.Minute)

		_, err := conn.HandleRequest(context.Background(), getRequest())
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.RemoteProtocolError)).To(BeTrue())
	})

	It("reports ServerDisconnectedError when an idle socket is found readable-but-empty", func() {
		stream := fakebackend.NewStream()
		stream.SetReadable(true)
		conn := http1.NewConn(testOrigin, stream, time.Minute)

		_, err := conn.HandleRequest(context.Background(), getRequest())
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.ServerDisconnectedError)).To(BeTrue())
	})

	It("surfaces a mid-body disconnect as ServerDisconnectedError", func() {
		stream := fakebackend.NewStream(
			[]byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nhi"),
		)
		conn := http1.NewConn(testOrigin, stream, time.Minute)

		resp, err := conn.HandleRequest(context.Background(), getRequest())
		Expect(err).NotTo(HaveOccurred())

		_, rerr := message.ReadAll(resp.Stream)
		Expect(rerr).To(HaveOccurred())
		Expect(liberr.Is(rerr, liberr.ServerDisconnectedError)).To(BeTrue())
	})

	It("serializes a request body with Content-Length framing", func() {
		stream := fakebackend.NewStream(
			[]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"),
		)
		conn := http1.NewConn(testOrigin, stream, time.Minute)

		req := &message.Request{
			Method: "POST",
			URL:    message.URL{Scheme: "http", Host: "example.test", Target: "/submit"},
			Stream: message.NewPlainBodyStream([]byte("payload")),
		}
		_, err := conn.HandleRequest(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())

		written := stream.Written()
		Expect(string(written)).To(ContainSubstring("POST /submit HTTP/1.1\r\n"))
		Expect(string(written)).To(ContainSubstring("Content-Length: 7\r\n"))
		Expect(string(written)).To(HaveSuffix("payload"))
	})

	It("skips 1xx informational responses before the final status", func() {
		stream := fakebackend.NewStream(
			[]byte("HTTP/1.1 103 Early Hints\r\nLink: </style.css>\r\n\r\n"),
			[]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"),
		)
		conn := http1.NewConn(testOrigin, stream, time.Minute)

		resp, err := conn.HandleRequest(context.Background(), getRequest())
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(200))
	})

	It("exposes leftover bytes through the upgrade stream on a 101 response", func() {
		stream := fakebackend.NewStream(
			[]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\nleftover-bytes"),
		)
		conn := http1.NewConn(testOrigin, stream, time.Minute)

		req := getRequest()
		req.Headers = req.Headers.Set("Upgrade", "websocket")
		resp, err := conn.HandleRequest(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status).To(Equal(101))

		buf := make([]byte, 64)
		n, err := resp.Extensions.NetworkStream.Read(buf)
		Expect(err).To(Or(BeNil(), MatchError(io.EOF)))
		Expect(string(buf[:n])).To(Equal("leftover-bytes"))
	})
})
