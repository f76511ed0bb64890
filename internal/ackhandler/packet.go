package ackhandler

import (
	"time"

	"github.com/privateoctopus/picogo/internal/protocol"
)

// Frame pairs an outgoing frame payload with the callbacks the sent packet
// handler invokes once that frame's fate (acked or lost) is known. Frame
// itself is left as an opaque value; the frame-encoding layer is the only
// thing that needs to know its concrete type.
type Frame struct {
	Frame   interface{}
	OnAcked func(interface{})
	OnLost  func(interface{})
}

// Packet is a sent packet's bookkeeping record: the information the loss
// detector and congestion controller need, kept independently of the wire
// bytes themselves (which are never retained after being handed to the
// socket).
type Packet struct {
	PacketNumber    protocol.PacketNumber
	Length          protocol.ByteCount
	EncryptionLevel protocol.EncryptionLevel
	Frames          []Frame
	SendTime        time.Time
	TOS             protocol.TOS

	// LargestAcked is the largest packet number acknowledged by an ACK
	// frame carried in this packet, or InvalidPacketNumber if it carried
	// no ACK frame at all.
	LargestAcked protocol.PacketNumber

	IsPathMTUProbePacket bool

	includedInBytesInFlight bool
	declaredLost            bool
	skippedPacket           bool
}
