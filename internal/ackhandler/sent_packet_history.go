package ackhandler

import (
	"fmt"
	"time"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/utils"
)

// sentPacketHistory tracks packets sent in one packet-number space that
// haven't yet been acknowledged, removed, or aged out. Packets arrive in
// strictly increasing packet-number order (SentPacket), so a simple
// append-only slice with periodic tombstone compaction does the job without
// needing the doubly linked list the teacher's full internal/ackhandler
// package uses for O(1) arbitrary removal.
type sentPacketHistory struct {
	rttStats *utils.RTTStats
	packets  []*Packet
	removed  int // tombstoned entries, for compaction bookkeeping
}

func newSentPacketHistory(rttStats *utils.RTTStats) *sentPacketHistory {
	return &sentPacketHistory{rttStats: rttStats}
}

func (h *sentPacketHistory) SentPacket(p *Packet, isAckEliciting bool) {
	h.packets = append(h.packets, p)
}

// Iterate walks packets in ascending packet-number order, stopping early if
// f returns false without an error (mirroring the teacher's early-break
// semantics for "largest acked reached").
func (h *sentPacketHistory) Iterate(f func(*Packet) (bool, error)) error {
	for _, p := range h.packets {
		if p == nil {
			continue
		}
		cont, err := f(p)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (h *sentPacketHistory) Remove(pn protocol.PacketNumber) error {
	for i, p := range h.packets {
		if p == nil {
			continue
		}
		if p.PacketNumber == pn {
			h.packets[i] = nil
			h.removed++
			h.maybeCompact()
			return nil
		}
	}
	return fmt.Errorf("packet %d not found in sent packet history", pn)
}

func (h *sentPacketHistory) maybeCompact() {
	if h.removed < len(h.packets)/2 || h.removed < 64 {
		return
	}
	compacted := h.packets[:0]
	for _, p := range h.packets {
		if p != nil {
			compacted = append(compacted, p)
		}
	}
	h.packets = compacted
	h.removed = 0
}

func (h *sentPacketHistory) Len() int {
	return len(h.packets) - h.removed
}

func (h *sentPacketHistory) HasOutstandingPackets() bool {
	return h.Len() > 0
}

func (h *sentPacketHistory) FirstOutstanding() *Packet {
	for _, p := range h.packets {
		if p != nil && !p.declaredLost && !p.skippedPacket {
			return p
		}
	}
	return nil
}

// DeleteOldPackets drops packets that were declared lost and sent long
// enough ago (3x the PTO) that they no longer need to be kept around for
// spurious-retransmission detection. Acknowledged packets are not handled
// here; Remove takes them out as soon as they are acked.
func (h *sentPacketHistory) DeleteOldPackets(now time.Time) {
	cutoff := now.Add(-3 * h.rttStats.PTO(true))
	for i, p := range h.packets {
		if p != nil && p.declaredLost && p.SendTime.Before(cutoff) {
			h.packets[i] = nil
			h.removed++
		}
	}
	h.maybeCompact()
}
