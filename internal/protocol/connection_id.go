package protocol

import "fmt"

// ConnectionIDMinSize is the minimum length of a connection ID accepted by this core.
const ConnectionIDMinSize = 0

// ConnectionIDMaxSize is the maximum length of a connection ID, per the QUIC invariants.
const ConnectionIDMaxSize = 20

// ConnectionID is an opaque QUIC connection identifier, 0-20 bytes.
type ConnectionID struct {
	b [ConnectionIDMaxSize]byte
	l uint8
}

// ConnectionIDFromBytes builds a ConnectionID by copying b.
func ConnectionIDFromBytes(b []byte) ConnectionID {
	var c ConnectionID
	if len(b) > ConnectionIDMaxSize {
		panic("connection ID too long")
	}
	copy(c.b[:], b)
	c.l = uint8(len(b))
	return c
}

// Len returns the length of the connection ID in bytes.
func (c ConnectionID) Len() int { return int(c.l) }

// Bytes returns the raw bytes of the connection ID.
func (c ConnectionID) Bytes() []byte { return append([]byte{}, c.b[:c.l]...) }

// Equal reports whether c and other carry identical bytes.
// Equality is length-then-bytes, never a cryptographic comparison:
// connection IDs aren't secret, so there's no timing concern here.
func (c ConnectionID) Equal(other ConnectionID) bool {
	if c.l != other.l {
		return false
	}
	for i := uint8(0); i < c.l; i++ {
		if c.b[i] != other.b[i] {
			return false
		}
	}
	return true
}

func (c ConnectionID) String() string {
	if c.l == 0 {
		return "(empty)"
	}
	return fmt.Sprintf("%x", c.b[:c.l])
}
