package utils_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/utils"
)

var _ = Describe("ConstantTimeCompare", func() {
	It("returns 0 exactly when the two slices are byte-for-byte equal", func() {
		a := []byte{1, 2, 3, 4, 5}
		b := append([]byte{}, a...)
		Expect(utils.ConstantTimeCompare(a, b)).To(Equal(0))

		b[4] = 6
		Expect(utils.ConstantTimeCompare(a, b)).NotTo(Equal(0))

		b[0] = 9
		b[4] = 5
		Expect(utils.ConstantTimeCompare(a, b)).NotTo(Equal(0))
	})

	It("reports a length mismatch as unequal without indexing past the shorter slice", func() {
		Expect(utils.ConstantTimeCompare([]byte{1, 2, 3}, []byte{1, 2})).NotTo(Equal(0))
	})
})
