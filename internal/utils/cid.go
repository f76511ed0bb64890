package utils

import (
	"io"

	"github.com/privateoctopus/picogo/internal/protocol"
)

// DecodeConnectionID reads one length byte followed by that many bytes of
// connection ID, per the QUIC long-header invariants.
func DecodeConnectionID(b []byte) (protocol.ConnectionID, int, error) {
	if len(b) == 0 {
		return protocol.ConnectionID{}, 0, io.ErrUnexpectedEOF
	}
	l := int(b[0])
	if l > protocol.ConnectionIDMaxSize {
		return protocol.ConnectionID{}, 0, io.ErrUnexpectedEOF
	}
	if len(b) < 1+l {
		return protocol.ConnectionID{}, 0, io.ErrUnexpectedEOF
	}
	return protocol.ConnectionIDFromBytes(b[1 : 1+l]), 1 + l, nil
}

// EncodeConnectionID appends the length-prefixed form of c to b.
func EncodeConnectionID(b []byte, c protocol.ConnectionID) []byte {
	b = append(b, byte(c.Len()))
	return append(b, c.Bytes()...)
}
