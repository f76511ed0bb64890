package quic

import "github.com/privateoctopus/picogo/internal/protocol"

// stashedCID is one peer-issued connection ID plus its stateless-reset
// token, as carried by a NEW_CONNECTION_ID frame.
type stashedCID struct {
	sequenceNumber uint64
	cid            protocol.ConnectionID
	resetToken     [protocol.ResetSecretSize]byte
}

// cnxIDStash is spec.md's cnxid_stash: a FIFO of peer-issued CIDs with
// reset secrets, popped whenever a new path needs a fresh remote CID
// (spec.md section 4.3, "pop a stashed CID"). Grounded on the shape of
// quic-go's connIDManager queue (other_examples/quic-go-quic-go__conn_id_manager.go)
// but simplified to a plain FIFO slice: this core only ever pops from the
// front and appends NEW_CONNECTION_ID arrivals at the back, it never needs
// the ordered-insert-by-sequence-number logic the teacher's fragment has
// because out-of-order NEW_CONNECTION_ID frames are appended in arrival
// order rather than reordered (see push).
type cnxIDStash struct {
	items            []stashedCID
	highestSeen      uint64
	haveHighestSeen  bool
}

// push appends a newly received NEW_CONNECTION_ID frame's CID unless its
// sequence number is already stashed; a repeat of a stashed sequence number
// is dropped, and a lower, unseen sequence number arriving after a higher
// one is appended at the back rather than reordered.
func (s *cnxIDStash) push(seq uint64, cid protocol.ConnectionID, resetToken [protocol.ResetSecretSize]byte) {
	if s.haveHighestSeen && seq <= s.highestSeen {
		for _, it := range s.items {
			if it.sequenceNumber == seq {
				return // already stashed
			}
		}
	}
	s.items = append(s.items, stashedCID{sequenceNumber: seq, cid: cid, resetToken: resetToken})
	if !s.haveHighestSeen || seq > s.highestSeen {
		s.highestSeen = seq
		s.haveHighestSeen = true
	}
}

// pop removes and returns the oldest stashed CID, if any.
func (s *cnxIDStash) pop() (protocol.ConnectionID, [protocol.ResetSecretSize]byte, bool) {
	if len(s.items) == 0 {
		return protocol.ConnectionID{}, [protocol.ResetSecretSize]byte{}, false
	}
	it := s.items[0]
	s.items = s.items[1:]
	return it.cid, it.resetToken, true
}

// retireCnxID drops the first stashed CID equal to cid, wherever it sits
// (used when the stash wasn't actually the source, a no-op otherwise);
// production RETIRE_CONNECTION_ID emission is driven by the Connection,
// this just keeps the stash's bookkeeping honest when a CID taken directly
// from path[0] (not popped from the stash) is retired.
func (s *cnxIDStash) retireCnxID(cid protocol.ConnectionID) {
	for i, it := range s.items {
		if it.cid.Equal(cid) {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}
