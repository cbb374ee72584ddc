package idalloc_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/jmalloc/nsdbroker/src/nsd/idalloc"
)

var _ = Describe("Allocator", func() {
	var a *idalloc.Allocator

	BeforeEach(func() {
		a = &idalloc.Allocator{}
	})

	It("returns increasing ids starting from 1", func() {
		Expect(a.Next()).To(BeEquivalentTo(1))
		Expect(a.Next()).To(BeEquivalentTo(2))
		Expect(a.Next()).To(BeEquivalentTo(3))
	})

	It("never returns the invalid sentinel", func() {
		for i := 0; i < 1000; i++ {
			Expect(a.Next()).NotTo(BeEquivalentTo(idalloc.Invalid))
		}
	})
})
