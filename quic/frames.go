package quic

import (
	"time"

	"github.com/privateoctopus/picogo/internal/protocol"
	"github.com/privateoctopus/picogo/internal/wire"
)

// FrameDecodeResult is what decode_frames hands back to the dispatcher: the
// ack-eliciting-ness of what it saw (drives ack_needed), any ACK frames it
// extracted (drives the ackhandler/congestion pipeline), and whether it saw
// a CONNECTION_CLOSE (drives the Closing/Draining transition).
type FrameDecodeResult struct {
	AckEliciting      bool
	AckFrames         []*wire.AckFrame
	SawConnectionClose bool
	SawPathChallenge   []byte // 8-byte challenge payload, if any
	SawPathResponse    []byte
	NewConnectionIDs   []NewConnectionID
	RetireConnectionID *uint64
}

// NewConnectionID mirrors a decoded NEW_CONNECTION_ID frame's payload,
// enough for the connection-ID manager to stash it (spec.md's
// cnxid_stash).
type NewConnectionID struct {
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnectionID        protocol.ConnectionID
	StatelessResetToken [16]byte
}

// FrameDecoder is spec.md section 1's named external collaborator:
// "frame-body decoders for non-control frames ... abstracted as a
// decode_frames(buf, epoch, path) -> result collaborator". Only the control
// frames this core's invariants actually depend on (ACK, PATH_CHALLENGE/
// RESPONSE, NEW_CONNECTION_ID, CONNECTION_CLOSE) are surfaced in the
// result; stream data and flow control frames are fully opaque to the core
// and never appear here.
type FrameDecoder interface {
	DecodeFrames(buf []byte, epoch protocol.Epoch, path *Path) (FrameDecodeResult, error)
}

// ignoreIncomingHandshake implements picoquic's "decode just enough to know
// whether an ack is needed, without acting on anything else" path used
// for Initial segments from ServerAlmostReady up to Ready and for Handshake
// segments at Ready and later (spec.md section 4.3). It delegates to the same FrameDecoder but discards everything
// except AckEliciting.
func ignoreIncomingHandshake(dec FrameDecoder, buf []byte, epoch protocol.Epoch, path *Path) (bool, error) {
	res, err := dec.DecodeFrames(buf, epoch, path)
	if err != nil {
		return false, err
	}
	return res.AckEliciting, nil
}

// pacingClock is the time source the registry reads from for retry-token
// issuance/expiry timestamps; a plain seam so tests can inject a fake time
// instead of racing against the wall clock.
type pacingClock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
