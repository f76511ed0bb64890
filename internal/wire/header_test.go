package wire_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/quicvarint"
	"github.com/privateoctopus/picogo/internal/utils"
	"github.com/privateoctopus/picogo/internal/wire"
)

func buildLongHeader(typeBits byte, version protocol.VersionNumber, dcid, scid protocol.ConnectionID, token, payload []byte) []byte {
	var b []byte
	b = append(b, 0x80|(typeBits<<4))
	b = utils.AppendUint32(b, uint32(version))
	b = utils.EncodeConnectionID(b, dcid)
	b = utils.EncodeConnectionID(b, scid)
	if typeBits == 4 { // Initial carries a token
		b = quicvarint.Append(b, uint64(len(token)))
		b = append(b, token...)
	}
	b = quicvarint.Append(b, uint64(len(payload)))
	b = append(b, payload...)
	return b
}

func buildShortHeader(dcid protocol.ConnectionID, spin, keyPhase bool, payload []byte) []byte {
	b0 := byte(0x40)
	if spin {
		b0 |= 0x20
	}
	if keyPhase {
		b0 |= 0x04
	}
	var b []byte
	b = append(b, b0)
	b = append(b, dcid.Bytes()...)
	b = append(b, payload...)
	return b
}

var _ = Describe("ParseHeader", func() {
	dcid := protocol.ConnectionIDFromBytes([]byte{0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8})
	scid := protocol.ConnectionIDFromBytes([]byte{1, 2, 3, 4})

	It("parses an Initial long header and locates the first protected byte", func() {
		payload := make([]byte, 20)
		raw := buildLongHeader(4, protocol.Version1, dcid, scid, nil, payload)

		ph, err := wire.ParseHeader(raw, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(ph.Type).To(Equal(wire.TypeInitial))
		Expect(ph.Version).To(Equal(protocol.Version1))
		Expect(ph.DestCnxID.Equal(dcid)).To(BeTrue())
		Expect(ph.SrcCnxID.Equal(scid)).To(BeTrue())
		Expect(ph.PayloadLength).To(Equal(len(payload)))
		Expect(ph.Offset + ph.PayloadLength).To(Equal(len(raw)))
	})

	It("parses a Handshake long header", func() {
		payload := make([]byte, 12)
		raw := buildLongHeader(6, protocol.Version1, dcid, scid, nil, payload)

		ph, err := wire.ParseHeader(raw, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(ph.Type).To(Equal(wire.TypeHandshake))
		Expect(ph.Epoch).To(Equal(protocol.EpochHandshake))
	})

	It("parses a short header and reads the spin/key-phase bits", func() {
		payload := make([]byte, 16)
		raw := buildShortHeader(dcid, true, true, payload)

		ph, err := wire.ParseHeader(raw, dcid.Len())
		Expect(err).NotTo(HaveOccurred())
		Expect(ph.Type).To(Equal(wire.TypeOneRTT))
		Expect(ph.DestCnxID.Equal(dcid)).To(BeTrue())
		Expect(ph.Spin).To(BeTrue())
		Expect(ph.KeyPhase).To(BeTrue())
		Expect(ph.Offset + ph.PayloadLength).To(Equal(len(raw)))
	})

	It("rejects a short header with the QUIC bit clear", func() {
		raw := []byte{0x00}
		raw = append(raw, dcid.Bytes()...)
		ph, err := wire.ParseHeader(raw, dcid.Len())
		Expect(err).NotTo(HaveOccurred())
		Expect(ph.Type).To(Equal(wire.TypeError))
	})

	It("poisons a long header whose declared payload length overruns the buffer", func() {
		raw := buildLongHeader(4, protocol.Version1, dcid, scid, nil, nil)
		// Overwrite the trailing payload-length varint region so it claims
		// far more bytes than actually follow.
		raw = raw[:len(raw)-1]
		raw = quicvarint.Append(raw, 9000)
		ph, err := wire.ParseHeader(raw, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(ph.Type).To(Equal(wire.TypeError))
	})

	It("carries the ECN codepoint the caller stamps on after parsing", func() {
		raw := buildLongHeader(4, protocol.Version1, dcid, scid, nil, make([]byte, 4))
		ph, err := wire.ParseHeader(raw, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(ph.ECN()).To(Equal(protocol.ECN(0)))
		ph.SetECN(protocol.ECNCE)
		Expect(ph.ECN()).To(Equal(protocol.ECNCE))
	})
})

var _ = Describe("stateless packet forms", func() {
	It("round-trips a stateless reset detection against the stored secret", func() {
		var secret [protocol.ResetSecretSize]byte
		for i := range secret {
			secret[i] = byte(i + 1)
		}
		raw := wire.AppendStatelessReset(nil, secret, protocol.ResetPacketMinSize)
		Expect(wire.LooksLikeStatelessReset(raw, secret)).To(BeTrue())

		var wrong [protocol.ResetSecretSize]byte
		Expect(wire.LooksLikeStatelessReset(raw, wrong)).To(BeFalse())
	})

	It("builds a Version Negotiation packet that swaps source/dest CIDs", func() {
		clientDCID := protocol.ConnectionIDFromBytes([]byte{9, 9})
		clientSCID := protocol.ConnectionIDFromBytes([]byte{7, 7})
		raw := wire.AppendVersionNegotiation(nil, clientSCID, clientDCID)

		ph, err := wire.ParseHeader(raw, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(ph.Type).To(Equal(wire.TypeVersionNegotiation))
		Expect(ph.DestCnxID.Equal(clientSCID)).To(BeTrue())
		Expect(ph.SrcCnxID.Equal(clientDCID)).To(BeTrue())
	})
})
