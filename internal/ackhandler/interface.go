package ackhandler

import (
	"time"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/wire"
)

// SendMode tells the packet-assembly loop what it's allowed to put on the
// wire right now.
type SendMode uint8

const (
	SendNone SendMode = iota
	SendAck
	SendAny
	SendPTOInitial
	SendPTOHandshake
	SendPTOAppData
)

func (s SendMode) String() string {
	switch s {
	case SendNone:
		return "none"
	case SendAck:
		return "ack"
	case SendAny:
		return "any"
	case SendPTOInitial:
		return "pto (Initial)"
	case SendPTOHandshake:
		return "pto (Handshake)"
	case SendPTOAppData:
		return "pto (Application)"
	default:
		return "invalid SendMode"
	}
}

// SentPacketHandler tracks every ack-eliciting packet this endpoint has
// sent until it's acknowledged or declared lost, drives the congestion
// controller and the loss-detection/PTO timer, and answers the packet
// assembler's "what can I send, and when" questions.
type SentPacketHandler interface {
	SentPacket(packet *Packet)
	DropPackets(encLevel protocol.EncryptionLevel)

	ReceivedBytes(protocol.ByteCount)
	ReceivedPacket(protocol.EncryptionLevel)
	ReceivedAck(ack *wire.AckFrame, encLevel protocol.EncryptionLevel, rcvTime time.Time) (bool, error)
	GetLowestPacketNotConfirmedAcked() protocol.PacketNumber

	PeekPacketNumber(encLevel protocol.EncryptionLevel) (protocol.PacketNumber, protocol.PacketNumberLen)
	PopPacketNumber(encLevel protocol.EncryptionLevel) protocol.PacketNumber

	GetTOS(isAckEliciting bool) protocol.TOS
	SendMode() SendMode
	TimeUntilSend() time.Time
	HasPacingBudget() bool
	SetMaxDatagramSize(protocol.ByteCount)

	QueueProbePacket(encLevel protocol.EncryptionLevel) bool
	ResetForRetry() error
	SetHandshakeConfirmed()

	OnLossDetectionTimeout() error
	GetLossDetectionTimeout() time.Time
}
