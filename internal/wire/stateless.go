package wire

import (
	"crypto/rand"

	"github.com/privateoctopus/picogo/internal/handshake"
	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
)

// AppendVersionNegotiation builds a Version Negotiation packet offering the
// versions in protocol.SupportedVersions, echoing the source/dest connection
// IDs back swapped as the spec requires (the client's SrcCnxID becomes the
// responder's DestCnxID, and vice versa).
func AppendVersionNegotiation(b []byte, destCnxID, srcCnxID protocol.ConnectionID) []byte {
	r := make([]byte, 1)
	rand.Read(r) //nolint:errcheck // the random type-byte is cosmetic, not security sensitive
	b = append(b, r[0]|0x80)
	b = utils.AppendUint32(b, uint32(protocol.VersionNegotiation))
	b = utils.EncodeConnectionID(b, destCnxID)
	b = utils.EncodeConnectionID(b, srcCnxID)
	for _, v := range protocol.SupportedVersions {
		b = utils.AppendUint32(b, uint32(v))
	}
	return b
}

// AppendRetry builds a Retry packet: the long-header Retry prefix, the retry
// token, and the 16-byte integrity tag computed over the original
// destination connection ID per GetRetryIntegrityTag.
func AppendRetry(b []byte, version protocol.VersionNumber, destCnxID, srcCnxID, origDestCnxID protocol.ConnectionID, token []byte) []byte {
	start := len(b)
	b = append(b, 0x80|(7<<4))
	b = utils.AppendUint32(b, uint32(version))
	b = utils.EncodeConnectionID(b, destCnxID)
	b = utils.EncodeConnectionID(b, srcCnxID)
	b = append(b, token...)
	tag := handshake.GetRetryIntegrityTag(b[start:], origDestCnxID, version)
	return append(b, tag[:]...)
}

// AppendStatelessReset builds a stateless reset datagram: the QUIC-bit-clear
// short-header byte, ResetPacketPadSize+ of random padding so the datagram
// can't be distinguished from a short header by size alone, and the 16-byte
// reset token in the trailing position a genuine 1-RTT packet's peer would
// recognize. resetToken is written as given; no connection ID goes on the
// wire.
func AppendStatelessReset(b []byte, resetToken [protocol.ResetSecretSize]byte, packetSize int) []byte {
	if packetSize < protocol.ResetPacketMinSize {
		packetSize = protocol.ResetPacketMinSize
	}
	padLen := packetSize - protocol.ResetSecretSize
	if padLen < 1 {
		padLen = 1
	}
	pad := make([]byte, padLen)
	rand.Read(pad) //nolint:errcheck
	pad[0] = 0x30 | (pad[0] & 0x1F) // short-header form with the QUIC bit clear
	b = append(b, pad...)
	return append(b, resetToken[:]...)
}

// LooksLikeStatelessReset reports whether the trailing ResetSecretSize bytes
// of a received datagram match secret, using a constant-time comparison so a
// timing side channel can't be used to probe for a valid reset token.
func LooksLikeStatelessReset(data []byte, secret [protocol.ResetSecretSize]byte) bool {
	if len(data) < protocol.ResetPacketMinSize {
		return false
	}
	got := data[len(data)-protocol.ResetSecretSize:]
	return utils.ConstantTimeCompare(got, secret[:]) == 0
}
