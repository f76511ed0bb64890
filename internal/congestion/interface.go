// Package congestion implements the CUBIC-with-a-Reno-floor congestion
// controller: the window update rules are a direct translation of
// picoquic's cubic.c, wired to the HyStart slow-start-exit heuristic in
// internal/utils.MinMaxRTT.
package congestion

import (
	"time"

	"github.com/privateoctopus/picogo/internal/protocol"
)

// SendAlgorithm is the congestion-window side of the interface the sent
// packet handler drives. Shaped after quic-go's
// congestion.SendAlgorithmWithDebugInfos, which the teacher's
// sent_packet_handler.go calls into directly.
type SendAlgorithm interface {
	TimeUntilSend(bytesInFlight protocol.ByteCount) time.Time
	HasPacingBudget() bool
	OnPacketSent(sentTime time.Time, bytesInFlight protocol.ByteCount, packetNumber protocol.PacketNumber, bytes protocol.ByteCount, isRetransmittable bool)
	CanSend(bytesInFlight protocol.ByteCount) bool
	MaybeExitSlowStart()
	OnPacketAcked(number protocol.PacketNumber, ackedBytes protocol.ByteCount, priorInFlight protocol.ByteCount, eventTime time.Time)
	OnPacketLost(number protocol.PacketNumber, lostBytes protocol.ByteCount, priorInFlight protocol.ByteCount)
	OnRetransmissionTimeout(packetsRetransmitted bool)
	SetMaxDatagramSize(protocol.ByteCount)
}

// SendAlgorithmWithDebugInfos adds the introspection hooks the tracer and
// the loss detector use to log the controller's internal state.
type SendAlgorithmWithDebugInfos interface {
	SendAlgorithm
	InSlowStart() bool
	InRecovery() bool
	GetCongestionWindow() protocol.ByteCount
}

// Clock abstracts time.Now so tests can inject a fake one, following
// quic-go's congestion.Clock / DefaultClock split.
type Clock interface {
	Now() time.Time
}

// DefaultClock is the production Clock, backed by time.Now.
type DefaultClock struct{}

func (DefaultClock) Now() time.Time { return time.Now() }
