package http2_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestHTTP2(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "http2 Suite")
}
