// Package wire parses the QUIC long- and short-header forms into a
// PacketHeader, reconstructs the 64-bit packet number, and builds the three
// stateless packet forms (Version Negotiation, Retry, stateless reset) that
// the connection state machine emits without any connection state at all.
//
// Grounded on picoquic_parse_long_packet_header / picoquic_parse_short_packet_header
// (original_source/picoquic/packet.c) and the teacher's wire.Header shape
// referenced from logging.PacketTypeFromHeader.
package wire

import (
	"io"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/quicvarint"
	"github.com/privateoctopus/picogo/internal/utils"
)

// PacketHeader is the transient result of parsing one QUIC packet's header.
// It mirrors spec.md's PacketHeader data model field for field.
type PacketHeader struct {
	Type PacketType

	Version      protocol.VersionNumber
	VersionIndex int // -1 if unknown/unsupported

	DestCnxID protocol.ConnectionID
	SrcCnxID  protocol.ConnectionID

	Offset        int // header length, i.e. offset of the first protected byte
	PayloadLength int
	PNOffset      int

	PN     protocol.PacketNumber // truncated
	PNLen  protocol.PacketNumberLen
	PNMask protocol.PacketNumber
	PN64   protocol.PacketNumber // reconstructed, filled in by the caller

	Epoch protocol.Epoch
	PC    protocol.PacketNumberSpace

	Spin              bool
	HasSpinBit        bool
	KeyPhase          bool
	HasReservedBitSet bool

	TokenBytes []byte // Initial only

	// ecn is the IP-layer ECN codepoint this segment's datagram carried,
	// stamped on by the caller from OOB socket data before dispatch; it
	// never comes from the QUIC wire format itself.
	ecn protocol.ECN
}

// ECN returns the IP-layer ECN codepoint this header's datagram carried.
func (ph *PacketHeader) ECN() protocol.ECN { return ph.ecn }

// SetECN stamps the IP-layer ECN codepoint onto ph; called by the registry
// after reading OOB ancillary data off the socket.
func (ph *PacketHeader) SetECN(e protocol.ECN) { ph.ecn = e }

// PacketType is the decoded type of a parsed header.
type PacketType = protocol.PacketType

const (
	TypeVersionNegotiation = protocol.PacketTypeVersionNegotiation
	TypeInitial            = protocol.PacketTypeInitial
	TypeZeroRTT            = protocol.PacketTypeZeroRTT
	TypeHandshake          = protocol.PacketTypeHandshake
	TypeRetry              = protocol.PacketTypeRetry
	TypeOneRTT             = protocol.PacketTypeOneRTT
	TypeError              = protocol.PacketTypeError
)

// ErrHeaderTooShort is returned (not panicked) when the segment is too short
// to contain a well-formed header; Registry.HandleDatagram then reports
// DETECTED and stops parsing the datagram.
var ErrHeaderTooShort = io.ErrUnexpectedEOF

// ParseHeader dispatches on the top bit of the first byte: long header (1) or
// short header (0). localCIDLen is the length of connection IDs this endpoint
// hands out, needed to know how many bytes of a short header's DCID to read.
func ParseHeader(b []byte, localCIDLen int) (*PacketHeader, error) {
	if len(b) == 0 {
		return nil, ErrHeaderTooShort
	}
	if b[0]&0x80 != 0 {
		return parseLongHeader(b)
	}
	return parseShortHeader(b, localCIDLen)
}

func parseLongHeader(b []byte) (*PacketHeader, error) {
	start := b
	if len(b) < 1+4+1 {
		return nil, ErrHeaderTooShort
	}
	b0 := b[0]
	b = b[1:]
	version := protocol.VersionNumber(utils.ReadUint32(b))
	b = b[4:]

	dcid, n, err := utils.DecodeConnectionID(b)
	if err != nil {
		return nil, err
	}
	b = b[n:]
	scid, n, err := utils.DecodeConnectionID(b)
	if err != nil {
		return nil, err
	}
	b = b[n:]

	ph := &PacketHeader{
		Version:   version,
		DestCnxID: dcid,
		SrcCnxID:  scid,
	}
	ph.Offset = len(start) - len(b)

	if version == protocol.VersionNegotiation {
		ph.Type = TypeVersionNegotiation
		ph.PC = protocol.PNSpaceInitial
		ph.PayloadLength = len(b)
		return ph, nil
	}

	ph.VersionIndex = protocol.VersionIndex(version)

	switch (b0 >> 4) & 7 {
	case 4: // Initial
		tokenLen, n, err := quicvarint.Read(b)
		if err != nil {
			return poisonLong(ph, len(start)), nil
		}
		b = b[n:]
		if uint64(len(b)) < tokenLen {
			return poisonLong(ph, len(start)), nil
		}
		ph.Type = TypeInitial
		ph.PC = protocol.PNSpaceInitial
		ph.Epoch = protocol.EpochInitial
		ph.TokenBytes = b[:tokenLen]
		b = b[tokenLen:]
	case 5: // 0-RTT
		ph.Type = TypeZeroRTT
		ph.PC = protocol.PNSpaceApplication
		ph.Epoch = protocol.Epoch0RTT
	case 6: // Handshake
		ph.Type = TypeHandshake
		ph.PC = protocol.PNSpaceHandshake
		ph.Epoch = protocol.EpochHandshake
	case 7: // Retry
		ph.Type = TypeRetry
		ph.PC = protocol.PNSpaceInitial
		ph.Epoch = protocol.EpochInitial
		ph.Offset = len(start) - len(b)
		ph.PayloadLength = len(b)
		return ph, nil
	default:
		ph.Type = TypeError
		ph.VersionIndex = protocol.VersionIndexUnknown
		return ph, nil
	}

	payloadLen, n, err := quicvarint.Read(b)
	if err != nil || uint64(len(b)-n) < payloadLen || ph.VersionIndex == protocol.VersionIndexUnknown {
		return poisonLong(ph, len(start)), nil
	}
	b = b[n:]
	ph.Offset = len(start) - len(b)
	ph.PNOffset = ph.Offset
	ph.PayloadLength = int(payloadLen)

	// Reserved bits (b0 & 0x18) must be zero for long headers at this stage;
	// long headers are not checked again after header protection removal
	// (only short headers are checked there).
	if b0&0x18 != 0 {
		ph.HasReservedBitSet = true
	}
	return ph, nil
}

func poisonLong(ph *PacketHeader, segLen int) *PacketHeader {
	ph.Type = TypeError
	ph.PayloadLength = 0
	ph.Offset = segLen
	return ph
}

func parseShortHeader(b []byte, localCIDLen int) (*PacketHeader, error) {
	if len(b) < 1+localCIDLen {
		return &PacketHeader{Type: TypeError, Offset: len(b)}, nil
	}
	dcid := protocol.ConnectionIDFromBytes(b[1 : 1+localCIDLen])
	ph := &PacketHeader{
		DestCnxID: dcid,
		Epoch:     protocol.Epoch1RTT,
		PC:        protocol.PNSpaceApplication,
		Offset:    1 + localCIDLen,
	}
	ph.PNOffset = ph.Offset

	b0 := b[0]
	if b0&0x40 != 0x40 {
		ph.Type = TypeError
		return ph, nil
	}
	ph.Type = TypeOneRTT
	ph.HasSpinBit = true
	ph.Spin = (b0>>5)&1 == 1
	ph.KeyPhase = (b0>>2)&1 == 1
	ph.PayloadLength = len(b) - ph.Offset
	return ph, nil
}

// DecodePN reconstructs the 64-bit packet number and fills PN64/PNMask.
func (ph *PacketHeader) DecodePN(highest protocol.PacketNumber) {
	ph.PNMask = protocol.PacketNumber(1)<<(uint(ph.PNLen)*8) - 1
	ph.PN64 = protocol.DecodePacketNumber(highest, ph.PNLen, ph.PN)
}
