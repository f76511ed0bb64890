package quic

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/wire"
)

type fakeCallback struct{ resets int }

func (f *fakeCallback) OnVersionNegotiation(versions []protocol.VersionNumber) {}
func (f *fakeCallback) OnStatelessReset()                                      { f.resets++ }
func (f *fakeCallback) OnStateChanged(s State)                                 {}
func (f *fakeCallback) OnHandshakeDone()                                       {}

func buildOneRTT(dcid protocol.ConnectionID, payload []byte) []byte {
	b := []byte{0x40}
	b = append(b, dcid.Bytes()...)
	b = append(b, payload...)
	return b
}

var _ = Describe("incomingEncrypted stateless-reset recognition", func() {
	It("transitions to Disconnected and fires exactly one stateless-reset callback on AEAD failure matching the stored secret", func() {
		// Scenario C: a 1-RTT segment long enough to plausibly be a
		// stateless reset, whose trailing bytes match path[0]'s stored
		// secret, arrives while no 1-RTT read key is installed (the
		// simplest way to force the AEAD_CHECK branch without standing
		// up real key material).
		c := testConnection(8, false)
		p := newPath(c, c.config.InitialMTU)
		var secret [protocol.ResetSecretSize]byte
		for i := range secret {
			secret[i] = byte(0xA0 + i)
		}
		p.ResetSecret = secret
		p.registered = true
		c.paths = []*Path{p}
		cb := &fakeCallback{}
		c.callback = cb
		c.setState(Ready)

		dcid := protocol.ConnectionIDFromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
		payload := make([]byte, protocol.ResetPacketMinSize)
		copy(payload[len(payload)-protocol.ResetSecretSize:], secret[:])
		raw := buildOneRTT(dcid, payload)

		peer := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 5555}
		local := &net.UDPAddr{IP: net.ParseIP("198.51.100.9"), Port: 443}
		now := time.Unix(1700000000, 0)

		ph, err := wire.ParseHeader(raw, 8)
		Expect(err).NotTo(HaveOccurred())

		_, reason := c.incomingSegment(raw, ph, peer, local, now)

		Expect(reason).To(Equal(StatelessReset))
		Expect(c.State()).To(Equal(Disconnected))
		Expect(cb.resets).To(Equal(1))
	})
})
