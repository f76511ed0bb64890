package quic

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/quicvarint"
	"github.com/privateoctopus/picogo/internal/utils"
)

// fakeAEAD/fakeHeaderProtector are trivial stand-ins for the real crypto
// collaborators (a zero-mask header protector, a pass-through AEAD), letting
// the coalesce-loop tests drive a segment all the way through decrypt
// success without standing up a real TLS handshake.
type fakeAEAD struct{}

func (fakeAEAD) Open(dst, src []byte, pn protocol.PacketNumber, ad []byte) ([]byte, error) {
	return append(dst, src...), nil
}
func (fakeAEAD) Seal(dst, src []byte, pn protocol.PacketNumber, ad []byte) []byte {
	return append(dst, src...)
}
func (fakeAEAD) Overhead() int { return 0 }

type fakeHeaderProtector struct{}

func (fakeHeaderProtector) Mask(sample []byte) [5]byte { return [5]byte{} }
func (fakeHeaderProtector) SampleSize() int            { return 16 }

func buildTestInitial(dcid, scid protocol.ConnectionID, payloadLen int) []byte {
	var b []byte
	b = append(b, 0x80|(4<<4))
	b = utils.AppendUint32(b, uint32(protocol.Version1))
	b = utils.EncodeConnectionID(b, dcid)
	b = utils.EncodeConnectionID(b, scid)
	b = quicvarint.Append(b, 0) // empty token
	b = quicvarint.Append(b, uint64(payloadLen))
	b = append(b, make([]byte, payloadLen)...)
	return b
}

var _ = Describe("Registry.HandleDatagram", func() {
	var (
		r     *Registry
		peer  net.Addr
		local net.Addr
		now   time.Time
	)

	BeforeEach(func() {
		cfg := DefaultConfig()
		cfg.IsServer = true
		r = NewRegistry(cfg)
		peer = &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 5555}
		local = &net.UDPAddr{IP: net.ParseIP("198.51.100.9"), Port: 443}
		now = time.Unix(1700000000, 0)
	})

	It("aborts the remainder of the datagram when the second segment's DCID differs from the first's", func() {
		// Scenario B: two coalesced long-header segments with differing
		// DCIDs. The first segment is routed to a pre-registered
		// connection wired with a pass-through AEAD so it decrypts
		// cleanly (a Success that would otherwise let the coalesce loop
		// keep going); the mismatch on segment two must still cut the
		// datagram short.
		dcidOne := protocol.ConnectionIDFromBytes([]byte{0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8})
		dcidTwo := protocol.ConnectionIDFromBytes([]byte{0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7, 0xB8})
		scid := protocol.ConnectionIDFromBytes([]byte{1, 2, 3, 4})

		conn := NewServerConnection(r.config, r, dcidOne, scid, peer, local, protocol.Version1)
		conn.crypto.Contexts[protocol.EpochInitial].AEADDecrypt = fakeAEAD{}
		conn.crypto.Contexts[protocol.EpochInitial].PNDecrypt = fakeHeaderProtector{}
		r.register(conn)

		first := buildTestInitial(dcidOne, scid, 24)
		second := buildTestInitial(dcidTwo, scid, 24)
		datagram := append(append([]byte{}, first...), second...)

		results := r.HandleDatagram(datagram, peer, local, now)

		Expect(results).To(Equal([]DropReason{Success, CnxIDSegment}))
	})

	It("creates a server Connection for an unrecognized Initial with a long enough DCID", func() {
		// Scenario A (truncated: no TLS flight available in this unit test,
		// so we only assert the Connection got created and indexed).
		dcid := protocol.ConnectionIDFromBytes([]byte{0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8})
		scid := protocol.ConnectionIDFromBytes([]byte{1, 2, 3, 4})
		datagram := buildTestInitial(dcid, scid, 24)

		results := r.HandleDatagram(datagram, peer, local, now)

		Expect(results).To(HaveLen(1))
		Expect(len(r.conns)).To(Equal(1))
		for conn := range r.conns {
			Expect(conn.initialCnxID.Equal(dcid)).To(BeTrue())
			Expect(conn.State()).To(Equal(ServerInit))
		}
	})

	It("rejects and discards a fresh Initial whose DCID is shorter than the enforced minimum", func() {
		dcid := protocol.ConnectionIDFromBytes([]byte{0x01, 0x02, 0x03, 0x04})
		scid := protocol.ConnectionIDFromBytes([]byte{1})
		datagram := buildTestInitial(dcid, scid, 24)

		results := r.HandleDatagram(datagram, peer, local, now)

		Expect(results).To(Equal([]DropReason{InitialCIDTooShort}))
		Expect(len(r.conns)).To(Equal(0))
	})
})

var _ = Describe("Registry retry tokens", func() {
	It("round-trips a freshly issued token as valid", func() {
		r := NewRegistry(DefaultConfig())
		peer := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 5555}

		token := r.makeRetryToken(peer)
		Expect(r.verifyRetryToken(token, peer)).To(BeTrue())
	})

	It("rejects a token once it's older than the configured validity window", func() {
		cfg := DefaultConfig()
		cfg.TokenValidity = time.Second
		r := NewRegistry(cfg)
		fake := &fakeClock{now: time.Unix(1700000000, 0)}
		r.clock = fake
		peer := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 5555}

		token := r.makeRetryToken(peer)
		fake.now = fake.now.Add(10 * time.Second)
		Expect(r.verifyRetryToken(token, peer)).To(BeFalse())
	})

	It("rejects a token issued for a different peer address", func() {
		r := NewRegistry(DefaultConfig())
		peerA := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 5555}
		peerB := &net.UDPAddr{IP: net.ParseIP("203.0.113.10"), Port: 5555}

		token := r.makeRetryToken(peerA)
		Expect(r.verifyRetryToken(token, peerB)).To(BeFalse())
	})
})

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }
