package logging

import (
	"time"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
)

// ConnectionTracer receives structured events out of a single connection's
// lifetime: metrics updates, loss-detection timer changes, and ECN
// validation outcomes. A connection that doesn't want tracing uses
// NopTracer; qlog.NewTracer wires these same calls into a JSON
// sink instead.
type ConnectionTracer interface {
	UpdatedMetrics(rttStats *utils.RTTStats, cwnd, bytesInFlight protocol.ByteCount, packetsInFlight int)
	AcknowledgedPacket(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber)
	LostPacket(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber, reason PacketLossReason)
	UpdatedPTOCount(value uint32)
	SetLossTimer(t TimerType, encLevel protocol.EncryptionLevel, deadline time.Time)
	LossTimerExpired(t TimerType, encLevel protocol.EncryptionLevel)
	LossTimerCanceled()
	ValidatedECN(result ECNValidationResult)
	UpdatedCongestionState(state CongestionState)
	ClosedConnection(reason error)
}

// NopTracer discards every event; the default when no tracer is configured.
var NopTracer ConnectionTracer = nopTracer{}

type nopTracer struct{}

func (nopTracer) UpdatedMetrics(*utils.RTTStats, protocol.ByteCount, protocol.ByteCount, int) {}
func (nopTracer) AcknowledgedPacket(protocol.EncryptionLevel, protocol.PacketNumber)          {}
func (nopTracer) LostPacket(protocol.EncryptionLevel, protocol.PacketNumber, PacketLossReason) {
}
func (nopTracer) UpdatedPTOCount(uint32)                                      {}
func (nopTracer) SetLossTimer(TimerType, protocol.EncryptionLevel, time.Time) {}
func (nopTracer) LossTimerExpired(TimerType, protocol.EncryptionLevel)        {}
func (nopTracer) LossTimerCanceled()                                         {}
func (nopTracer) ValidatedECN(ECNValidationResult)                           {}
func (nopTracer) UpdatedCongestionState(CongestionState)                     {}
func (nopTracer) ClosedConnection(error)                                     {}
