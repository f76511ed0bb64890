package handshake

import (
	"github.com/privateoctopus/picogo/internal/protocol"
)

// CryptoSetup is the out-of-scope TLS collaborator (spec.md section 1: "the
// TLS library ... supplies crypto contexts and AEAD primitives"). It is
// shaped so that either a qtls-backed implementation (the teacher's
// go1-15/go1-16 forks) or a crypto/tls QUICConn-backed one can satisfy it;
// this core never calls into a concrete TLS stack, only this seam.
type CryptoSetup interface {
	// HandleMessage feeds a received CRYPTO frame's payload at the given
	// epoch into the handshake state machine.
	HandleMessage(data []byte, epoch protocol.Epoch) error
	// NextEvent drains the next pending event (new keys installed, data to
	// send, handshake complete) the way tls.QUICConn.NextEvent does.
	NextEvent() (CryptoEvent, bool)
	// GetSessionTicket triggers session-ticket emission once the handshake
	// is confirmed.
	GetSessionTicket() ([]byte, error)
}

// CryptoEvent is the event vocabulary NextEvent drains, mirroring
// tls.QUICConn's event kinds closely enough that a QUICConn-backed
// CryptoSetup can translate one to one.
type CryptoEvent struct {
	Kind       CryptoEventKind
	Epoch      protocol.Epoch
	Data       []byte
	Contexts   CryptoContext
	Direction  Direction
}

type CryptoEventKind uint8

const (
	EventNoEvent CryptoEventKind = iota
	EventWriteData
	EventReceivedReadKeys
	EventHandshakeComplete
)

// Direction distinguishes which half of a CryptoContext an EventReceivedReadKeys
// or write-keys event populated.
type Direction uint8

const (
	DirectionRead  Direction = 0
	DirectionWrite Direction = 1
)
