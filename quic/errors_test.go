package quic

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("classifyDrop", func() {
	It("lets the coalesce loop continue past Success and Duplicate", func() {
		Expect(classifyDrop(Success)).To(Equal(policyContinue))
		Expect(classifyDrop(Duplicate)).To(Equal(policyContinue))
	})

	It("halts the coalesce loop on every other drop reason", func() {
		for _, r := range []DropReason{
			AEADCheck, StatelessReset, UnexpectedPacket, InitialTooShort,
			InitialCIDTooShort, CnxIDCheck, CnxIDSegment, Retry, Detected,
			ConnectionDeleted, SpuriousRepeat, Memory,
		} {
			Expect(classifyDrop(r)).To(Equal(policyHalt), r.String())
		}
	})
})

var _ = Describe("DropReason.String", func() {
	It("names every declared reason instead of falling through to the numeric default", func() {
		Expect(Success.String()).To(Equal("SUCCESS"))
		Expect(CnxIDSegment.String()).To(Equal("CNXID_SEGMENT"))
		Expect(DropReason(200).String()).To(ContainSubstring("DropReason"))
	})
})
