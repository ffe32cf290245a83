package http1_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestHTTP1(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "http1 Suite")
}
