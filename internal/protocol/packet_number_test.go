package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/protocol"
)

var _ = Describe("DecodePacketNumber", func() {
	It("reconstructs the closer candidate, never the wrapped-around one", func() {
		// Scenario D: truncated PN 0x7F with highest=0x1FD, 1-byte PN
		// (mask 0xFF) reconstructs to 0x17F, not 0x27F.
		got := protocol.DecodePacketNumber(0x1FD, protocol.PacketNumberLen1, 0x7F)
		Expect(got).To(Equal(protocol.PacketNumber(0x17F)))
	})

	It("picks the next window up when it is closer to expected than the low-window candidate", func() {
		got := protocol.DecodePacketNumber(0xFF, protocol.PacketNumberLen1, 0x01)
		Expect(got).To(Equal(protocol.PacketNumber(0x101)))
	})

	It("never reconstructs below zero even when the naive candidate would wrap", func() {
		got := protocol.DecodePacketNumber(0, protocol.PacketNumberLen1, 0xFE)
		Expect(got).To(BeNumerically(">=", 0))
	})

	It("reproduces the truncated value exactly when it already matches expected", func() {
		got := protocol.DecodePacketNumber(9, protocol.PacketNumberLen2, 10)
		Expect(got).To(Equal(protocol.PacketNumber(10)))
	})
})
