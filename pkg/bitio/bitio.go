// Package bitio is the single source of truth for network-byte-order
// integer layout used by every packet codec in rtcore. It replaces the
// inline encoding/binary calls the teacher repeats per RTCP variant
// (pkg/rtp/rtcp.go) with one set of monomorphic free functions keyed on
// width and signedness, per spec.md §9's "template specializations for
// byte I/O become monomorphic free functions" design note.
package bitio

import "encoding/binary"

// PutUint24 writes the low 24 bits of v into b[0:3], big-endian.
func PutUint24(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// Uint24 reads a 24-bit big-endian unsigned integer from b[0:3].
func Uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// PutInt24 writes the low 24 bits of a signed value, two's complement.
func PutInt24(b []byte, v int32) {
	PutUint24(b, uint32(v)&0x00FFFFFF)
}

// Int24 reads a 24-bit two's complement signed integer and sign-extends it.
func Int24(b []byte) int32 {
	u := Uint24(b)
	if u&0x00800000 != 0 {
		u |= 0xFF000000
	}
	return int32(u)
}

// PutUint48 writes the low 48 bits of v into b[0:6], big-endian.
func PutUint48(b []byte, v uint64) {
	_ = b[5]
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

// Uint48 reads a 48-bit big-endian unsigned integer from b[0:6].
func Uint48(b []byte) uint64 {
	_ = b[5]
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

// The 16/32/64-bit cases need no wrapper beyond encoding/binary; the
// binary.BigEndian functions are re-exported here so every packet codec
// imports exactly one package for wire integers.
var (
	PutUint16 = binary.BigEndian.PutUint16
	Uint16    = binary.BigEndian.Uint16
	PutUint32 = binary.BigEndian.PutUint32
	Uint32    = binary.BigEndian.Uint32
	PutUint64 = binary.BigEndian.PutUint64
	Uint64    = binary.BigEndian.Uint64
)

// Int16 reads a 16-bit two's complement signed integer.
func Int16(b []byte) int16 {
	return int16(Uint16(b))
}

// PutInt16 writes a 16-bit two's complement signed integer.
func PutInt16(b []byte, v int16) {
	PutUint16(b, uint16(v))
}
