package pool_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/httpcore/connapi"
	"github.com/sabouaram/httpcore/duration"
	liberr "github.com/sabouaram/httpcore/errors"
	"github.com/sabouaram/httpcore/internal/fakebackend"
	"github.com/sabouaram/httpcore/message"
	"github.com/sabouaram/httpcore/pool"
)

func getReq(origin message.Origin) *message.Request {
	return &message.Request{
		Method: "GET",
		URL:    message.URL{Scheme: origin.Scheme, Host: origin.Host, Port: &origin.Port, Target: "/"},
	}
}

func ptrInt(n int) *int { return &n }

var _ = Describe("Pool", func() {
	var origin1, origin2 message.Origin

	BeforeEach(func() {
		origin1 = message.Origin{Scheme: "http", Host: "a.test", Port: 80}
		origin2 = message.Origin{Scheme: "http", Host: "b.test", Port: 80}
	})

	It("reuses the same connection for sequential same-origin requests", func() {
		created := 0
		var last *fakebackend.Conn
		factory := func(o message.Origin) connapi.Conn {
			created++
			last = fakebackend.NewConn(o)
			return last
		}
		p := pool.New(factory, pool.Options{MaxConnections: 5})

		resp1, err := p.HandleRequest(context.Background(), getReq(origin1))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp1.Stream.Close()).To(Succeed())

		resp2, err := p.HandleRequest(context.Background(), getReq(origin1))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp2.Stream.Close()).To(Succeed())

		Expect(created).To(Equal(1))
		Expect(last.HandleCount()).To(Equal(2))
		Expect(p.Connections()).To(HaveLen(1))
	})

	It("bounds concurrent connections at max_connections and evicts an idle one to serve a new origin", func() {
		var conns []*fakebackend.Conn
		factory := func(o message.Origin) connapi.Conn {
			c := fakebackend.NewConn(o)
			conns = append(conns, c)
			return c
		}
		p := pool.New(factory, pool.Options{MaxConnections: 1})

		resp1, err := p.HandleRequest(context.Background(), getReq(origin1))
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Connections()).To(HaveLen(1))

		// A second origin can't get a connection: the pool is full and the
		// one connection it holds is still busy (resp1's body is open).
		req2 := getReq(origin2)
		small := duration.FromFloat64(0.02)
		req2.Extensions.Timeout.Pool = &small
		_, err = p.HandleRequest(context.Background(), req2)
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.PoolTimeout)).To(BeTrue())

		// Closing resp1's body frees its connection; the next request for
		// origin2 evicts it (wrong origin, but idle) and opens a new one.
		Expect(resp1.Stream.Close()).To(Succeed())

		resp2, err := p.HandleRequest(context.Background(), getReq(origin2))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp2).NotTo(BeNil())
		Expect(p.Connections()).To(HaveLen(1))
		Expect(p.Connections()[0].Origin()).To(Equal(origin2))
		Expect(conns[0].IsClosed()).To(BeTrue())
	})

	It("evicts surplus idle connections down to max_keepalive_connections", func() {
		factory := func(o message.Origin) connapi.Conn { return fakebackend.NewConn(o) }
		p := pool.New(factory, pool.Options{MaxConnections: 5, MaxKeepAliveConnections: ptrInt(1)})

		resp1, err := p.HandleRequest(context.Background(), getReq(origin1))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp1.Stream.Close()).To(Succeed())

		resp2, err := p.HandleRequest(context.Background(), getReq(origin2))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp2.Stream.Close()).To(Succeed())

		// Both connections are now idle; the next assign cycle (triggered
		// by any pool activity) trims down to MaxKeepAliveConnections=1.
		resp3, err := p.HandleRequest(context.Background(), getReq(origin1))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp3.Stream.Close()).To(Succeed())

		Expect(p.Connections()).To(HaveLen(1))
	})

	It("never retains a connection once idle when max_keepalive_connections is 0", func() {
		var conns []*fakebackend.Conn
		factory := func(o message.Origin) connapi.Conn {
			c := fakebackend.NewConn(o)
			conns = append(conns, c)
			return c
		}
		p := pool.New(factory, pool.Options{MaxConnections: 5, MaxKeepAliveConnections: ptrInt(0)})

		resp1, err := p.HandleRequest(context.Background(), getReq(origin1))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp1.Stream.Close()).To(Succeed())

		resp2, err := p.HandleRequest(context.Background(), getReq(origin1))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp2.Stream.Close()).To(Succeed())

		Expect(p.Connections()).To(HaveLen(0))
		Expect(conns).To(HaveLen(2))
	})

	It("removes exactly one PoolRequest when a response body is closed twice", func() {
		factory := func(o message.Origin) connapi.Conn { return fakebackend.NewConn(o) }
		p := pool.New(factory, pool.Options{MaxConnections: 5})

		resp, err := p.HandleRequest(context.Background(), getReq(origin1))
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.Stream.Close()).To(Succeed())
		Expect(resp.Stream.Close()).To(Succeed())

		Expect(p.Connections()).To(HaveLen(1))
		Expect(p.Connections()[0].IsIdle()).To(BeTrue())
	})

	It("serves queued same-origin requests in FIFO order once a connection frees up", func() {
		factory := func(o message.Origin) connapi.Conn { return fakebackend.NewConn(o) }
		p := pool.New(factory, pool.Options{MaxConnections: 1})

		resp1, err := p.HandleRequest(context.Background(), getReq(origin1))
		Expect(err).NotTo(HaveOccurred())

		order := make(chan int, 2)
		go func() {
			if _, err := p.HandleRequest(context.Background(), getReq(origin1)); err == nil {
				order <- 1
			}
		}()
		time.Sleep(20 * time.Millisecond)
		go func() {
			if _, err := p.HandleRequest(context.Background(), getReq(origin1)); err == nil {
				order <- 2
			}
		}()
		time.Sleep(20 * time.Millisecond)

		Expect(resp1.Stream.Close()).To(Succeed())

		Eventually(order).Should(Receive(Equal(1)))
		Eventually(order).Should(Receive(Equal(2)))
	})

	It("closes every held connection on Pool.Close", func() {
		var conns []*fakebackend.Conn
		factory := func(o message.Origin) connapi.Conn {
			c := fakebackend.NewConn(o)
			conns = append(conns, c)
			return c
		}
		p := pool.New(factory, pool.Options{MaxConnections: 5})

		resp, err := p.HandleRequest(context.Background(), getReq(origin1))
		Expect(err).NotTo(HaveOccurred())
		_ = resp

		Expect(p.Close()).To(Succeed())
		Expect(conns[0].IsClosed()).To(BeTrue())
		Expect(p.Connections()).To(HaveLen(0))
	})

	It("rejects an unsupported URL scheme", func() {
		factory := func(o message.Origin) connapi.Conn { return fakebackend.NewConn(o) }
		p := pool.New(factory, pool.Options{MaxConnections: 1})

		req := &message.Request{Method: "GET", URL: message.URL{Scheme: "ftp", Host: "a.test", Target: "/"}}
		_, err := p.HandleRequest(context.Background(), req)
		Expect(err).To(HaveOccurred())
		Expect(liberr.Is(err, liberr.UnsupportedProtocol)).To(BeTrue())
	})
})
