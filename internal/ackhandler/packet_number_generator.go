package ackhandler

import "github.com/privateoctopus/picogo/internal/protocol"

// packetNumberGenerator hands out strictly increasing packet numbers for one
// packet-number space.
type packetNumberGenerator interface {
	Peek() protocol.PacketNumber
	Pop() protocol.PacketNumber
}

// sequentialPacketNumberGenerator is used for the Initial and Handshake
// spaces, where skipping a number would only complicate matching a Retry
// or coalesced packet against its Initial.
type sequentialPacketNumberGenerator struct {
	next protocol.PacketNumber
}

func newSequentialPacketNumberGenerator(initial protocol.PacketNumber) packetNumberGenerator {
	return &sequentialPacketNumberGenerator{next: initial}
}

func (g *sequentialPacketNumberGenerator) Peek() protocol.PacketNumber { return g.next }

func (g *sequentialPacketNumberGenerator) Pop() protocol.PacketNumber {
	pn := g.next
	g.next++
	return pn
}

// skippingPacketNumberGenerator is used for the application-data space: it
// periodically skips a packet number (picoquic and quic-go both do this).
// The skipped numbers are not recorded in the sent packet history, so an
// ACK that covers a skipped number is not reported as an error.
type skippingPacketNumberGenerator struct {
	next           protocol.PacketNumber
	nextToSkip     protocol.PacketNumber
	initialPeriod  protocol.PacketNumber
	maxPeriod      protocol.PacketNumber
	rng            uint64
}

func newSkippingPacketNumberGenerator(initial, initialPeriod, maxPeriod protocol.PacketNumber) packetNumberGenerator {
	g := &skippingPacketNumberGenerator{
		next:          initial,
		initialPeriod: initialPeriod,
		maxPeriod:     maxPeriod,
		rng:           0x9e3779b97f4a7c15 ^ uint64(initial),
	}
	g.nextToSkip = g.next + g.generateNewSkip(initialPeriod)
	return g
}

func (g *skippingPacketNumberGenerator) generateNewSkip(period protocol.PacketNumber) protocol.PacketNumber {
	// xorshift64*, seeded from the generator's own state: deterministic
	// per-connection, not meant to be cryptographically unpredictable,
	// only to avoid an attacker being able to precompute the skip point
	// from the initial packet number alone.
	g.rng ^= g.rng << 13
	g.rng ^= g.rng >> 7
	g.rng ^= g.rng << 17
	return protocol.PacketNumber(g.rng % uint64(period))
}

func (g *skippingPacketNumberGenerator) Peek() protocol.PacketNumber { return g.next }

func (g *skippingPacketNumberGenerator) Pop() protocol.PacketNumber {
	pn := g.next
	g.next++
	if g.next == g.nextToSkip {
		g.next++
		period := 2 * g.initialPeriod
		if period > g.maxPeriod {
			period = g.maxPeriod
		}
		g.initialPeriod = period
		g.nextToSkip = g.next + g.generateNewSkip(period)
	}
	return pn
}
