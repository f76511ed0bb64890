// Package protocol holds the wire-level types and constants shared by the
// packet parser, the connection state machine, and the congestion
// controller: connection IDs, packet numbers, encryption levels, and the
// numeric constants named in the transport core's external interface.
package protocol

import "time"

// ByteCount counts bytes on the wire.
type ByteCount int64

// Perspective indicates whether an endpoint is acting as a client or a server.
type Perspective uint8

const (
	PerspectiveClient Perspective = 1
	PerspectiveServer Perspective = 2
)

func (p Perspective) Opposite() Perspective {
	if p == PerspectiveClient {
		return PerspectiveServer
	}
	return PerspectiveClient
}

// Epoch is the QUIC cryptographic level: 0 Initial, 1 0-RTT, 2 Handshake, 3 1-RTT.
type Epoch uint8

const (
	EpochInitial   Epoch = 0
	Epoch0RTT      Epoch = 1
	EpochHandshake Epoch = 2
	Epoch1RTT      Epoch = 3
)

func (e Epoch) String() string {
	switch e {
	case EpochInitial:
		return "Initial"
	case Epoch0RTT:
		return "0-RTT"
	case EpochHandshake:
		return "Handshake"
	case Epoch1RTT:
		return "1-RTT"
	default:
		return "invalid epoch"
	}
}

// PacketNumberSpace is the packet-number context (pc): Initial, Handshake, or Application.
type PacketNumberSpace uint8

const (
	PNSpaceInitial PacketNumberSpace = iota
	PNSpaceHandshake
	PNSpaceApplication
)

// EpochToPNSpace maps a cryptographic epoch onto its packet-number space.
// 0-RTT and 1-RTT packets share the Application packet-number space.
func EpochToPNSpace(e Epoch) PacketNumberSpace {
	switch e {
	case EpochInitial:
		return PNSpaceInitial
	case EpochHandshake:
		return PNSpaceHandshake
	default:
		return PNSpaceApplication
	}
}

// PacketType is the long-header packet type, or Error/OneRTT/VersionNegotiation
// for the cases that don't come from the four long-header type bits.
type PacketType uint8

const (
	PacketTypeInitial PacketType = iota
	PacketTypeZeroRTT
	PacketTypeHandshake
	PacketTypeRetry
	PacketTypeOneRTT
	PacketTypeVersionNegotiation
	PacketTypeError
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeInitial:
		return "Initial"
	case PacketTypeZeroRTT:
		return "0-RTT"
	case PacketTypeHandshake:
		return "Handshake"
	case PacketTypeRetry:
		return "Retry"
	case PacketTypeOneRTT:
		return "1-RTT"
	case PacketTypeVersionNegotiation:
		return "Version Negotiation"
	default:
		return "Error"
	}
}

// VersionNumber is a QUIC version, as it appears on the wire.
type VersionNumber uint32

const VersionNegotiation VersionNumber = 0

// VersionIndexUnknown is used as the version_index sentinel (-1) when a version
// isn't in the locally-supported version table.
const VersionIndexUnknown = -1

// ECN is the explicit congestion notification codepoint of a packet.
type ECN uint8

const (
	ECNNon ECN = 0
	ECT1   ECN = 1
	ECT0   ECN = 2
	ECNCE  ECN = 3
)

// TOS is the IP type-of-service / traffic-class byte; its low two bits carry the ECN codepoint.
type TOS uint8

const TOSDefault TOS = 0

func (t TOS) ECN() ECN { return ECN(t & 0x3) }

func (e ECN) ToTOS() TOS { return TOS(e & 0x3) }

// Transport-level constants named in the external interface (spec §6).
const (
	CwinInitial             ByteCount = 10 * EnforcedInitialMTU
	CwinMinimum             ByteCount = 2 * EnforcedInitialMTU
	TargetRenoRTT                     = 100 * time.Millisecond
	EnforcedInitialMTU      ByteCount = 1252
	EnforcedInitialCIDLen             = 8
	ResetPacketMinSize                = 21
	ResetSecretSize                   = 16
	ResetPacketPadSize                = 4
	ChallengeRepeatMax                = 4
	MinMaxRTTScope                    = 8
	TokenDelayShort                   = 15 * time.Second
	MaxTrackedSentPackets             = 5 * 2000
	MaxOutstandingSentPackets         = 2 * 2000
	TimerGranularity                  = time.Millisecond
)

// UInt64Max is picoquic's "not yet set" sentinel for ssthresh.
const UInt64Max uint64 = 1<<64 - 1

// EncryptionLevel is an alias for Epoch under the name the ack handler and
// the rest of the sent-packet bookkeeping use; both names refer to the same
// four-way Initial/0-RTT/Handshake/1-RTT split.
type EncryptionLevel = Epoch

const (
	EncryptionInitial   = EpochInitial
	Encryption0RTT      = Epoch0RTT
	EncryptionHandshake = EpochHandshake
	Encryption1RTT      = Epoch1RTT
)

// GetPacketNumberLengthForHeader is PacketNumberLengthForHeader under the
// name the sent packet handler calls it by.
func GetPacketNumberLengthForHeader(pn, lowestUnacked PacketNumber) PacketNumberLen {
	return PacketNumberLengthForHeader(pn, lowestUnacked)
}

// SkipPacketInitialPeriod and SkipPacketMaxPeriod bound how often the
// application-data packet-number generator skips a packet number.
const (
	SkipPacketInitialPeriod PacketNumber = 256
	SkipPacketMaxPeriod     PacketNumber = 512
)
