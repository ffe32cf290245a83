package syncx_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/httpcore/syncx"
)

func TestSyncx(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "syncx Suite")
}

var _ = Describe("Event", func() {
	It("is not set until Set is called", func() {
		e := syncx.NewEvent()
		Expect(e.IsSet()).To(BeFalse())
	})

	It("unblocks a waiter once Set is called", func() {
		e := syncx.NewEvent()
		done := make(chan error, 1)
		go func() { done <- e.Wait(context.Background()) }()

		time.Sleep(10 * time.Millisecond)
		e.Set()

		Eventually(done).Should(Receive(BeNil()))
		Expect(e.IsSet()).To(BeTrue())
	})

	It("tolerates Set being called more than once", func() {
		e := syncx.NewEvent()
		e.Set()
		Expect(func() { e.Set() }).NotTo(Panic())
		Expect(e.IsSet()).To(BeTrue())
	})

	It("returns the context error when cancelled before Set", func() {
		e := syncx.NewEvent()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := e.Wait(ctx)
		Expect(err).To(Equal(context.Canceled))
	})
})

var _ = Describe("Semaphore", func() {
	It("admits up to its configured weight concurrently", func() {
		s := syncx.New(2)
		Expect(s.NewWorkerTry()).To(BeTrue())
		Expect(s.NewWorkerTry()).To(BeTrue())
		Expect(s.NewWorkerTry()).To(BeFalse())
	})

	It("frees a slot on DeferWorker", func() {
		s := syncx.New(1)
		Expect(s.NewWorkerTry()).To(BeTrue())
		Expect(s.NewWorkerTry()).To(BeFalse())

		s.DeferWorker()
		Expect(s.NewWorkerTry()).To(BeTrue())
	})

	It("reports its configured weight", func() {
		s := syncx.New(3)
		Expect(s.Weighted()).To(Equal(int64(3)))
	})

	It("blocks NewWorker until a slot frees up", func() {
		s := syncx.New(1)
		Expect(s.NewWorkerTry()).To(BeTrue())

		acquired := make(chan error, 1)
		go func() { acquired <- s.NewWorker(context.Background()) }()

		time.Sleep(10 * time.Millisecond)
		s.DeferWorker()

		Eventually(acquired).Should(Receive(BeNil()))
	})
})

var _ = Describe("Shield", func() {
	It("runs cleanup to completion before returning", func() {
		ran := false
		syncx.Shield(func() {
			time.Sleep(5 * time.Millisecond)
			ran = true
		})
		Expect(ran).To(BeTrue())
	})

	It("ShieldCtx hands cleanup a live background-derived context", func() {
		var sawDone bool
		syncx.ShieldCtx(func(ctx context.Context) {
			select {
			case <-ctx.Done():
				sawDone = true
			default:
			}
		})
		Expect(sawDone).To(BeFalse())
	})
})
