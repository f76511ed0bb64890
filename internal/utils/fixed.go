package utils

import "encoding/binary"

// BigEndian fixed-width decoders/encoders used by the packet parser for
// fields that aren't varint-encoded (version numbers, the Retry integrity
// tag, header-protection samples).

func ReadUint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func ReadUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func ReadUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func AppendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func AppendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func AppendUint64(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
