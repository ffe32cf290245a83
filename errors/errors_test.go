package errors_test

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	liberr "github.com/sabouaram/httpcore/errors"
)

func TestErrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "errors Suite")
}

var _ = Describe("CodeError", func() {
	It("resolves the registered message for a known kind", func() {
		Expect(liberr.ConnectError.Message()).To(Equal("error establishing a transport connection"))
	})

	It("falls back to UnknownMessage for an unregistered code", func() {
		Expect(liberr.UnknownError.Message()).To(Equal(liberr.UnknownMessage))
	})
})

var _ = Describe("Error", func() {
	It("carries its own code via IsCode", func() {
		err := liberr.ConnectError.Error()
		Expect(err.IsCode(liberr.ConnectError)).To(BeTrue())
		Expect(err.IsCode(liberr.ReadError)).To(BeFalse())
	})

	It("finds a code anywhere in the parent chain via HasCode", func() {
		root := errors.New("dial tcp: connection refused")
		wrapped := liberr.ConnectError.Error(root)
		outer := liberr.UnsupportedProtocol.Errorf("outer").Add(wrapped)

		Expect(outer.HasCode(liberr.UnsupportedProtocol)).To(BeTrue())
		Expect(outer.HasCode(liberr.ConnectError)).To(BeTrue())
		Expect(outer.HasCode(liberr.ReadTimeout)).To(BeFalse())
	})

	It("is detected by the package-level Is helper", func() {
		err := liberr.PoolTimeout.Error()
		Expect(liberr.Is(err, liberr.PoolTimeout)).To(BeTrue())
		Expect(liberr.Is(err, liberr.ConnectError)).To(BeFalse())
	})

	It("returns false from Is for a plain stdlib error", func() {
		Expect(liberr.Is(errors.New("boom"), liberr.ConnectError)).To(BeFalse())
	})

	It("unwraps to its first parent for errors.Is/errors.As", func() {
		root := errors.New("refused")
		err := liberr.ConnectError.Error(root)
		Expect(errors.Is(err, root)).To(BeTrue())
	})

	It("joins its own message with every parent's via Error()", func() {
		root := errors.New("refused")
		err := liberr.ConnectError.Errorf("dial failed").Add(root)
		Expect(err.Error()).To(Equal("dial failed: refused"))
	})

	It("ignores nil parents passed to Add", func() {
		err := liberr.ConnectError.Error()
		err.Add(nil)
		Expect(err.Error()).To(Equal(liberr.ConnectError.Message()))
	})
})
