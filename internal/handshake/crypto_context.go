// Package handshake owns the cryptographic collaborators the packet parser
// needs but doesn't itself implement: per-epoch AEAD seal/open and header
// protection mask derivation, plus the four-entry CryptoContext table and
// the 1-RTT key-rotation bookkeeping that picoquic's packet.c drives from
// picoquic_remove_header_protection / the epoch-3 branch of
// picoquic_decrypt_packet.
package handshake

import (
	"crypto/cipher"

	"github.com/privateoctopus/picogo/internal/protocol"
)

// HeaderProtector removes (or applies) QUIC header protection: it turns a
// 16-byte sample of ciphertext into the 5-byte mask the packet parser XORs
// into the first byte and the truncated packet number. Concrete
// implementations (AES-ECB, ChaCha20) live behind this seam so the parser
// never imports a cipher package directly.
type HeaderProtector interface {
	Mask(sample []byte) [5]byte
	SampleSize() int
}

// AEAD seals or opens one packet's payload, keyed per epoch/key-phase. This
// is the seam a TLS library (crypto/tls's QUICConn, or the teacher's qtls
// forks) plugs derived traffic secrets into; the core never derives key
// material itself.
type AEAD interface {
	Open(dst, src []byte, packetNumber protocol.PacketNumber, associatedData []byte) ([]byte, error)
	Seal(dst, src []byte, packetNumber protocol.PacketNumber, associatedData []byte) []byte
	Overhead() int
}

// aeadGCM adapts a cipher.AEAD (as produced by crypto/tls's QUIC key
// schedule, or by a test fixture) to the AEAD interface above, using the
// standard QUIC nonce construction: the packet number XORed into the low
// bits of a fixed IV.
type aeadGCM struct {
	aead cipher.AEAD
	iv   []byte
}

// NewAEAD wraps aead with the given fixed IV, the construction every QUIC
// crypto context uses regardless of cipher suite (RFC 9001 section 5.3).
func NewAEAD(aead cipher.AEAD, iv []byte) AEAD {
	return &aeadGCM{aead: aead, iv: append([]byte{}, iv...)}
}

func (a *aeadGCM) nonce(pn protocol.PacketNumber) []byte {
	nonce := make([]byte, len(a.iv))
	copy(nonce, a.iv)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> (8 * i))
	}
	return nonce
}

func (a *aeadGCM) Open(dst, src []byte, pn protocol.PacketNumber, ad []byte) ([]byte, error) {
	return a.aead.Open(dst, a.nonce(pn), src, ad)
}

func (a *aeadGCM) Seal(dst, src []byte, pn protocol.PacketNumber, ad []byte) []byte {
	return a.aead.Seal(dst, a.nonce(pn), src, ad)
}

func (a *aeadGCM) Overhead() int { return a.aead.Overhead() }

// CryptoContext is one epoch's worth of key material: empty until the TLS
// collaborator derives it, then populated with both directions' AEAD and
// header-protection seals. Modeled as a value with an explicit IsSet,
// matching spec.md's "Empty | Ready{...}" variant without virtual dispatch.
type CryptoContext struct {
	AEADEncrypt AEAD
	AEADDecrypt AEAD
	PNEncrypt   HeaderProtector
	PNDecrypt   HeaderProtector
}

// IsSet reports whether this context has been derived in the direction
// needed to decrypt incoming packets.
func (c *CryptoContext) IsSet() bool { return c.AEADDecrypt != nil && c.PNDecrypt != nil }

// Ready reports whether both directions are derived, the condition the
// client-Initial dispatcher checks before advancing past
// ClientHandshakeStart ("Handshake keys appear").
func (c *CryptoContext) Ready() bool {
	return c.AEADEncrypt != nil && c.AEADDecrypt != nil && c.PNEncrypt != nil && c.PNDecrypt != nil
}

// CryptoContexts is the four-entry, epoch-indexed table plus the old/new
// 1-RTT rotation slots, spec.md's "Four per-epoch CryptoContext slots +
// crypto_context_old and crypto_context_new".
type CryptoContexts struct {
	Contexts [4]CryptoContext // indexed by protocol.Epoch
	Old      CryptoContext
	New      CryptoContext
}

func (c *CryptoContexts) At(epoch protocol.Epoch) *CryptoContext { return &c.Contexts[epoch] }

// PromoteRotation commits a 1-RTT key rotation: New becomes the current
// epoch-3 context, the previous current context is demoted to Old. Mirrors
// packet.c's post-decrypt-success branch in picoquic_decrypt_packet:
// "if decoding succeeds, the rotation should be validated".
func (c *CryptoContexts) PromoteRotation() {
	c.Old = c.Contexts[protocol.Epoch1RTT]
	c.Contexts[protocol.Epoch1RTT].AEADDecrypt = c.New.AEADDecrypt
	c.Contexts[protocol.Epoch1RTT].PNDecrypt = c.New.PNDecrypt
	if c.New.AEADEncrypt != nil {
		c.Contexts[protocol.Epoch1RTT].AEADEncrypt = c.New.AEADEncrypt
		c.Contexts[protocol.Epoch1RTT].PNEncrypt = c.New.PNEncrypt
	}
	c.New = CryptoContext{}
}
