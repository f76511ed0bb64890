package wire

import (
	"time"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/quicvarint"
)

// AckRange is one [Smallest, Largest] contiguous range of acknowledged
// packet numbers within an ACK frame, in the order the wire format sends
// them: largest range first.
type AckRange struct {
	Smallest protocol.PacketNumber
	Largest  protocol.PacketNumber
}

// Len reports how many packet numbers this range covers.
func (r AckRange) Len() protocol.PacketNumber { return r.Largest - r.Smallest + 1 }

// AckFrame is the decoded form of a QUIC ACK frame (RFC 9000 section 19.3),
// including the optional ECN counts carried by an ACK_ECN frame.
type AckFrame struct {
	AckRanges []AckRange
	DelayTime time.Duration

	ECT0  uint64
	ECT1  uint64
	ECNCE uint64
}

// LargestAcked is the highest packet number this frame acknowledges.
func (f *AckFrame) LargestAcked() protocol.PacketNumber {
	if len(f.AckRanges) == 0 {
		return protocol.InvalidPacketNumber
	}
	return f.AckRanges[0].Largest
}

// LowestAcked is the lowest packet number this frame acknowledges.
func (f *AckFrame) LowestAcked() protocol.PacketNumber {
	if len(f.AckRanges) == 0 {
		return protocol.InvalidPacketNumber
	}
	return f.AckRanges[len(f.AckRanges)-1].Smallest
}

// HasMissingRanges reports whether this ACK has gaps, i.e. covers more than
// one contiguous range of packet numbers.
func (f *AckFrame) HasMissingRanges() bool { return len(f.AckRanges) > 1 }

// HasECN reports whether the frame carried any ECN counts at all (a plain
// ACK frame, as opposed to an ACK_ECN frame, always reports false here).
func (f *AckFrame) HasECN() bool { return f.ECT0 > 0 || f.ECT1 > 0 || f.ECNCE > 0 }

// AcksPacket reports whether pn falls within one of this frame's ranges.
func (f *AckFrame) AcksPacket(pn protocol.PacketNumber) bool {
	if pn < f.LowestAcked() || pn > f.LargestAcked() {
		return false
	}
	for _, r := range f.AckRanges {
		if pn >= r.Smallest && pn <= r.Largest {
			return true
		}
	}
	return false
}

// ParseAckFrame decodes an ACK or ACK_ECN frame body (the type byte itself
// already consumed by the caller). ackDelayExponent is the peer's
// transport parameter used to scale the wire ack_delay field into a
// time.Duration.
func ParseAckFrame(b []byte, hasECN bool, ackDelayExponent uint8) (*AckFrame, int, error) {
	start := len(b)
	largest, n, err := quicvarint.Read(b)
	if err != nil {
		return nil, 0, err
	}
	b = b[n:]
	delay, n, err := quicvarint.Read(b)
	if err != nil {
		return nil, 0, err
	}
	b = b[n:]
	rangeCount, n, err := quicvarint.Read(b)
	if err != nil {
		return nil, 0, err
	}
	b = b[n:]
	firstRangeLen, n, err := quicvarint.Read(b)
	if err != nil {
		return nil, 0, err
	}
	b = b[n:]

	f := &AckFrame{
		DelayTime: time.Duration(delay) * time.Microsecond * time.Duration(1<<ackDelayExponent),
	}
	largestPN := protocol.PacketNumber(largest)
	smallest := largestPN - protocol.PacketNumber(firstRangeLen)
	f.AckRanges = append(f.AckRanges, AckRange{Smallest: smallest, Largest: largestPN})

	for i := uint64(0); i < rangeCount; i++ {
		gap, n, err := quicvarint.Read(b)
		if err != nil {
			return nil, 0, err
		}
		b = b[n:]
		rangeLen, n, err := quicvarint.Read(b)
		if err != nil {
			return nil, 0, err
		}
		b = b[n:]
		largestPN = smallest - protocol.PacketNumber(gap) - 2
		smallest = largestPN - protocol.PacketNumber(rangeLen)
		f.AckRanges = append(f.AckRanges, AckRange{Smallest: smallest, Largest: largestPN})
	}

	if hasECN {
		f.ECT0, n, err = quicvarint.Read(b)
		if err != nil {
			return nil, 0, err
		}
		b = b[n:]
		f.ECT1, n, err = quicvarint.Read(b)
		if err != nil {
			return nil, 0, err
		}
		b = b[n:]
		f.ECNCE, n, err = quicvarint.Read(b)
		if err != nil {
			return nil, 0, err
		}
		b = b[n:]
	}
	return f, start - len(b), nil
}
