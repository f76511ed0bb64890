package quic

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/wire"
)

// tagAEAD is a handshake.AEAD stand-in distinguishable only by name, so a
// test can assert which of current/old/new key a selection picked without
// needing real cipher state.
type tagAEAD struct{ tag string }

func (tagAEAD) Open(dst, src []byte, pn protocol.PacketNumber, ad []byte) ([]byte, error) {
	return append(dst, src...), nil
}
func (tagAEAD) Seal(dst, src []byte, pn protocol.PacketNumber, ad []byte) []byte {
	return append(dst, src...)
}
func (tagAEAD) Overhead() int { return 0 }

var _ = Describe("selectOneRTTAEAD", func() {
	var (
		c   *Connection
		now time.Time
	)

	BeforeEach(func() {
		c = testConnection(8, false)
		p := newPath(c, c.config.InitialMTU)
		p.RetransmitTimer = 200 * time.Millisecond
		c.paths = []*Path{p}
		now = time.Unix(1700000000, 0)

		c.crypto.Contexts[protocol.Epoch1RTT].AEADDecrypt = tagAEAD{"current"}
		c.crypto.Old.AEADDecrypt = tagAEAD{"old"}
		c.cryptoRotationSequence = 100
		c.cryptoRotationTimeGuard = now.Add(50 * time.Millisecond)
		c.keyPhaseDec = false
	})

	It("picks the current key when the packet's key phase matches", func() {
		ph := &wire.PacketHeader{KeyPhase: false, PN64: 50}
		aead, ok := selectOneRTTAEAD(c, ph, now)
		Expect(ok).To(BeTrue())
		Expect(aead).To(Equal(tagAEAD{"current"}))
	})

	It("picks the old key for a mismatched phase below the rotation sequence, within the time guard", func() {
		// property 6: pn64 < crypto_rotation_sequence with a mismatched
		// key_phase must use aead_decrypt_old (or be dropped outright).
		ph := &wire.PacketHeader{KeyPhase: true, PN64: 50}
		aead, ok := selectOneRTTAEAD(c, ph, now)
		Expect(ok).To(BeTrue())
		Expect(aead).To(Equal(tagAEAD{"old"}))
	})

	It("drops a mismatched-phase, below-sequence packet once the time guard has passed", func() {
		ph := &wire.PacketHeader{KeyPhase: true, PN64: 50}
		_, ok := selectOneRTTAEAD(c, ph, now.Add(time.Second))
		Expect(ok).To(BeFalse())
	})

	It("drops a mismatched-phase, below-sequence packet when there's no old key at all", func() {
		c.crypto.Old.AEADDecrypt = nil
		ph := &wire.PacketHeader{KeyPhase: true, PN64: 50}
		_, ok := selectOneRTTAEAD(c, ph, now)
		Expect(ok).To(BeFalse())
	})

	It("offers the new key for a mismatched phase at or above the rotation sequence", func() {
		c.crypto.New.AEADDecrypt = tagAEAD{"new"}
		ph := &wire.PacketHeader{KeyPhase: true, PN64: 150}
		aead, ok := selectOneRTTAEAD(c, ph, now)
		Expect(ok).To(BeTrue())
		Expect(aead).To(Equal(tagAEAD{"new"}))
	})
})

var _ = Describe("commitRotation", func() {
	It("promotes New to current, demotes current to Old, and flips the decrypt key phase", func() {
		c := testConnection(8, false)
		p := newPath(c, c.config.InitialMTU)
		p.RetransmitTimer = 300 * time.Millisecond
		c.paths = []*Path{p}
		now := time.Unix(1700000000, 0)

		c.crypto.Contexts[protocol.Epoch1RTT].AEADDecrypt = tagAEAD{"current"}
		c.crypto.New.AEADDecrypt = tagAEAD{"new"}
		c.cryptoRotationSequence = 100
		c.keyPhaseDec = false

		c.commitRotation(150, now)

		Expect(c.crypto.Contexts[protocol.Epoch1RTT].AEADDecrypt).To(Equal(tagAEAD{"new"}))
		Expect(c.crypto.Old.AEADDecrypt).To(Equal(tagAEAD{"current"}))
		Expect(c.cryptoRotationSequence).To(Equal(protocol.PacketNumber(150)))
		Expect(c.cryptoRotationTimeGuard).To(Equal(now.Add(300 * time.Millisecond)))
		Expect(c.keyPhaseDec).To(BeTrue())
	})

	It("is a no-op when the candidate packet number precedes the current rotation sequence", func() {
		c := testConnection(8, false)
		p := newPath(c, c.config.InitialMTU)
		c.paths = []*Path{p}
		c.crypto.New.AEADDecrypt = tagAEAD{"new"}
		c.cryptoRotationSequence = 100

		c.commitRotation(50, time.Unix(1700000000, 0))

		Expect(c.cryptoRotationSequence).To(Equal(protocol.PacketNumber(100)))
		Expect(c.crypto.Contexts[protocol.Epoch1RTT].AEADDecrypt).To(BeNil())
	})
})
