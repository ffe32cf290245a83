package message_test

import (
	"io"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/httpcore/message"
)

func TestMessage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "message Suite")
}

var _ = Describe("Headers", func() {
	It("looks values up case-insensitively", func() {
		h := message.Headers{{Name: "Content-Type", Value: "text/plain"}}
		v, ok := h.Get("content-type")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("text/plain"))
	})

	It("reports Has false for an absent header", func() {
		h := message.Headers{{Name: "Accept", Value: "*/*"}}
		Expect(h.Has("Content-Length")).To(BeFalse())
	})

	It("drops pseudo-headers", func() {
		h := message.Headers{
			{Name: ":method", Value: "GET"},
			{Name: "accept", Value: "*/*"},
		}
		out := h.WithoutPseudo()
		Expect(out).To(HaveLen(1))
		Expect(out[0].Name).To(Equal("accept"))
	})

	It("lowercases every header name", func() {
		h := message.Headers{{Name: "Host", Value: "example.test"}}
		out := h.Lowercased()
		Expect(out[0].Name).To(Equal("host"))
	})

	It("clones independently of the source slice", func() {
		h := message.Headers{{Name: "X-A", Value: "1"}}
		clone := h.Clone()
		clone[0].Value = "2"
		Expect(h[0].Value).To(Equal("1"))
	})
})

var _ = Describe("Request.Normalize", func() {
	It("injects a Host header from the URL origin when absent", func() {
		req := &message.Request{Method: "GET", URL: message.URL{Scheme: "http", Host: "example.test", Target: "/"}}
		h := req.Normalize()
		v, ok := h.Get("Host")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("example.test"))
	})

	It("injects Content-Length for a plain body stream", func() {
		req := &message.Request{
			Method: "POST",
			URL:    message.URL{Scheme: "http", Host: "example.test", Target: "/"},
			Stream: message.NewPlainBodyStream([]byte("hello")),
		}
		h := req.Normalize()
		v, ok := h.Get("Content-Length")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("5"))
	})

	It("leaves an explicit Content-Length or Transfer-Encoding untouched", func() {
		req := &message.Request{
			Method:  "POST",
			URL:     message.URL{Scheme: "http", Host: "example.test", Target: "/"},
			Headers: message.Headers{{Name: "Transfer-Encoding", Value: "chunked"}},
			Stream:  message.NewPlainBodyStream([]byte("hello")),
		}
		h := req.Normalize()
		Expect(h.Has("Content-Length")).To(BeFalse())
	})
})

var _ = Describe("Request.AssignID / Trace", func() {
	It("assigns a random id once and reuses it on later calls", func() {
		req := &message.Request{Method: "GET", URL: message.URL{Scheme: "http", Host: "example.test", Target: "/"}}
		id := req.AssignID()
		Expect(id).NotTo(BeEmpty())
		Expect(req.AssignID()).To(Equal(id))
	})

	It("does not overwrite a caller-supplied id", func() {
		req := &message.Request{Method: "GET", URL: message.URL{Scheme: "http", Host: "example.test", Target: "/"}, ID: "caller-id"}
		Expect(req.AssignID()).To(Equal("caller-id"))
	})

	It("attaches request_id to every trace callback invocation", func() {
		var got map[string]interface{}
		req := &message.Request{
			Method: "GET",
			URL:    message.URL{Scheme: "http", Host: "example.test", Target: "/"},
			ID:     "trace-id",
			Extensions: message.Extensions{
				Trace: func(name string, kwargs map[string]interface{}) { got = kwargs },
			},
		}
		req.Trace("connection.connect_tcp.started", map[string]interface{}{"origin": "example.test"})
		Expect(got["request_id"]).To(Equal("trace-id"))
		Expect(got["origin"]).To(Equal("example.test"))
	})
})

var _ = Describe("PlainBodyStream", func() {
	It("yields its data once then io.EOF, and is restartable via Reset", func() {
		s := message.NewPlainBodyStream([]byte("abc"))
		chunk, err := s.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(chunk)).To(Equal("abc"))

		_, err = s.Next()
		Expect(err).To(Equal(io.EOF))

		s.Reset()
		chunk, err = s.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(chunk)).To(Equal("abc"))
	})

	It("reports io.EOF immediately once closed", func() {
		s := message.NewPlainBodyStream([]byte("abc"))
		Expect(s.Close()).To(Succeed())
		_, err := s.Next()
		Expect(err).To(Equal(io.EOF))
	})
})

var _ = Describe("ReadAll", func() {
	It("concatenates every chunk and closes the stream", func() {
		s := message.NewPlainBodyStream([]byte("hello world"))
		data, err := message.ReadAll(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("hello world"))
	})
})

var _ = Describe("URL", func() {
	It("defaults the effective port by scheme", func() {
		u := message.URL{Scheme: "https", Host: "example.test", Target: "/"}
		Expect(u.EffectivePort()).To(Equal(443))
	})

	It("prefers an explicit port over the scheme default", func() {
		port := 8443
		u := message.URL{Scheme: "https", Host: "example.test", Port: &port, Target: "/"}
		Expect(u.EffectivePort()).To(Equal(8443))
	})

	It("suppresses the port in String when it matches the scheme default", func() {
		u := message.URL{Scheme: "http", Host: "example.test", Target: "/a"}
		Expect(u.String()).To(Equal("http://example.test/a"))
	})

	It("renders a non-default port explicitly in String", func() {
		port := 8080
		u := message.URL{Scheme: "http", Host: "example.test", Port: &port, Target: "/a"}
		Expect(u.String()).To(Equal("http://example.test:8080/a"))
	})
})

var _ = Describe("Origin", func() {
	It("suppresses the port in HostHeader when it matches the scheme default", func() {
		o := message.Origin{Scheme: "http", Host: "example.test", Port: 80}
		Expect(o.HostHeader()).To(Equal("example.test"))
	})

	It("includes a non-default port in HostHeader", func() {
		o := message.Origin{Scheme: "http", Host: "example.test", Port: 8080}
		Expect(o.HostHeader()).To(Equal("example.test:8080"))
	})

	It("compares equal origins regardless of how the URL spelled the port", func() {
		a := message.URL{Scheme: "http", Host: "example.test", Target: "/"}.Origin()
		port := 80
		b := message.URL{Scheme: "http", Host: "example.test", Port: &port, Target: "/"}.Origin()
		Expect(a.Equal(b)).To(BeTrue())
	})
})
