package quic

import (
	"time"

	"github.com/privateoctopus/picogo/internal/handshake"
	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/wire"
)

// removeHeaderProtection is picoquic_remove_header_protection translated to
// Go: it samples ciphertext at pn_offset+4, derives the 5-byte mask from
// the epoch's header-protection key, and XORs it into the first byte and
// the truncated packet number. On any length violation it poisons ph
// exactly as packet.c does (pn = 0xFFFFFFFF) and skips decryption.
func removeHeaderProtection(buf []byte, ph *wire.PacketHeader, ctx *handshake.CryptoContext) {
	protector := ctx.PNDecrypt
	if protector == nil {
		poisonHeader(ph)
		return
	}
	sampleOffset := ph.PNOffset + 4
	sampleSize := protector.SampleSize()
	length := ph.Offset + ph.PayloadLength
	if sampleOffset+sampleSize > length || sampleOffset+sampleSize > len(buf) {
		poisonHeader(ph)
		return
	}

	mask := protector.Mask(buf[sampleOffset : sampleOffset+sampleSize])

	b0 := buf[0]
	firstMask := byte(0x1F)
	if b0&0x80 == 0x80 {
		firstMask = 0x0F
	}
	b0 ^= mask[0] & firstMask
	buf[0] = b0

	pnLen := int(b0&0x03) + 1
	var pn protocol.PacketNumber
	off := ph.Offset
	for i := 1; i <= pnLen; i++ {
		buf[off] ^= mask[i]
		pn = pn<<8 | protocol.PacketNumber(buf[off])
		off++
	}
	ph.PN = pn
	ph.PNLen = protocol.PacketNumberLen(pnLen)
	ph.Offset = off
	ph.PayloadLength -= pnLen

	if ph.Type == wire.TypeOneRTT {
		ph.KeyPhase = (b0>>2)&1 == 1
	}
	// Long-header reserved bits (0x18) were already checked at parse time,
	// before header protection removal; short-header reserved bits are
	// checked here, on the unprotected first byte.
	if b0&0x80 == 0 {
		ph.HasReservedBitSet = (b0 & 0x18) != 0
	}
}

func poisonHeader(ph *wire.PacketHeader) {
	ph.PN = 0xFFFFFFFF
	ph.PNMask = -0x100000000 // same 64-bit bit pattern as 0xFFFFFFFF00000000
	ph.Offset = ph.PNOffset
}

// decryptFailureMargin mirrors the sentinel packet.c returns from
// picoquic_aead_decrypt_generic on failure: payload_length + 1, i.e.
// strictly greater than the ciphertext length passed in.
const decryptFailureMargin = 1

// decryptPacket implements spec.md section 4.2's packet-protection removal,
// including the epoch-3 key-phase/rotation branch. It mutates buf in place
// and shrinks ph.PayloadLength to the plaintext length on success.
func decryptPacket(buf []byte, ph *wire.PacketHeader, conn *Connection, now time.Time) DropReason {
	ciphertext := buf[ph.Offset : ph.Offset+ph.PayloadLength]
	ad := buf[:ph.Offset]

	var aead handshake.AEAD
	switch ph.Epoch {
	case protocol.EpochInitial, protocol.Epoch0RTT, protocol.EpochHandshake:
		ctx := conn.crypto.At(ph.Epoch)
		if ctx.AEADDecrypt == nil {
			return AEADCheck
		}
		aead = ctx.AEADDecrypt
	case protocol.Epoch1RTT:
		var ok bool
		aead, ok = selectOneRTTAEAD(conn, ph, now)
		if !ok {
			return AEADCheck
		}
	default:
		return UnexpectedPacket
	}

	plain, err := aead.Open(ciphertext[:0], ciphertext, ph.PN64, ad)
	if err != nil || len(plain) > len(ciphertext) {
		return AEADCheck
	}
	ph.PayloadLength = len(plain)
	return Success
}

// selectOneRTTAEAD is the epoch-3 branch of picoquic_decrypt_packet: equal
// key phase uses the current key, a mismatched phase with pn64 below the
// rotation sequence uses the old key (only within the time guard), and a
// mismatched phase at or above the rotation sequence is a new rotation
// attempt that commits on successful decrypt.
func selectOneRTTAEAD(conn *Connection, ph *wire.PacketHeader, now time.Time) (handshake.AEAD, bool) {
	current := conn.crypto.At(protocol.Epoch1RTT)
	if ph.KeyPhase == conn.keyPhaseDec {
		if current.AEADDecrypt == nil {
			return nil, false
		}
		return current.AEADDecrypt, true
	}

	if ph.PN64 < conn.cryptoRotationSequence {
		if now.After(conn.cryptoRotationTimeGuard) {
			return nil, false
		}
		if conn.crypto.Old.AEADDecrypt == nil {
			return nil, false
		}
		return conn.crypto.Old.AEADDecrypt, true
	}

	// New rotation: decrypt speculatively against the "new" context and
	// only commit the rotation bookkeeping after the caller confirms
	// success via commitRotation.
	if conn.crypto.New.AEADDecrypt == nil {
		if conn.onKeysNeeded == nil {
			return nil, false
		}
		conn.onKeysNeeded(protocol.Epoch1RTT)
		if conn.crypto.New.AEADDecrypt == nil {
			return nil, false
		}
	}
	return conn.crypto.New.AEADDecrypt, true
}

// commitRotation is called once decryptPacket has returned Success for a
// packet decrypted against crypto.New: it promotes New to current, demotes
// current to Old, and arms the time guard that lets Old still decrypt
// reordered packets from before the rotation. Mirrors packet.c's
// "if decoding succeeds, the rotation should be validated".
func (c *Connection) commitRotation(pn64 protocol.PacketNumber, now time.Time) {
	if c.crypto.New.AEADDecrypt == nil || pn64 < c.cryptoRotationSequence {
		return
	}
	c.cryptoRotationSequence = pn64
	c.cryptoRotationTimeGuard = now.Add(c.paths[0].RetransmitTimer)
	c.crypto.PromoteRotation()
	c.keyPhaseDec = !c.keyPhaseDec
}

// looksLikeStatelessReset is spec.md section 4.2's stateless-reset
// recognition: only attempted on 1-RTT decrypt failure and a long-enough
// segment, compared in constant time against the path's stored secret.
func looksLikeStatelessReset(buf []byte, secret [protocol.ResetSecretSize]byte) bool {
	return wire.LooksLikeStatelessReset(buf, secret)
}
