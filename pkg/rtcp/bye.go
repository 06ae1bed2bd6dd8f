package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

// Bye is RFC 3550 §6.6, adapted from the teacher's ByePacket
// (pkg/rtp/rtcp.go). Carries up to 31 total sources (1 + 30 additional
// CSRCs per spec.md §4.2) and an optional zero-padded reason string.
type Bye struct {
	Sources []uint32
	Reason  string
}

func (b *Bye) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: uint8(len(b.Sources)), Type: TypeBYE, Length: uint16(b.PacketSize()/4 - 1)}
}

func (b *Bye) PacketSize() int {
	size := 4 + 4*len(b.Sources)
	if b.Reason != "" {
		size += 1 + len(b.Reason)
		if size%4 != 0 {
			size += 4 - size%4
		}
	}
	return size
}

func (b *Bye) Marshal() ([]byte, error) {
	buf := make([]byte, b.PacketSize())
	writeCommonHeader(buf, uint8(len(b.Sources)), TypeBYE, uint16(len(buf)/4-1))
	off := 4
	for _, s := range b.Sources {
		bitio.PutUint32(buf[off:off+4], s)
		off += 4
	}
	if b.Reason != "" {
		buf[off] = byte(len(b.Reason))
		off++
		copy(buf[off:], b.Reason)
		off += len(b.Reason)
		for off < len(buf) {
			buf[off] = 0
			off++
		}
	}
	return buf, nil
}

// ParseBye parses a BYE packet.
func ParseBye(h CommonHeader, data []byte) (*Bye, error) {
	if h.Type != TypeBYE {
		return nil, ErrWrongType
	}
	b := &Bye{}
	off := 4
	for i := 0; i < int(h.Count); i++ {
		if off+4 > len(data) {
			return nil, ErrShortBuffer
		}
		b.Sources = append(b.Sources, bitio.Uint32(data[off:off+4]))
		off += 4
	}
	if off < len(data) {
		l := int(data[off])
		off++
		if off+l > len(data) {
			return nil, ErrShortBuffer
		}
		b.Reason = string(data[off : off+l])
	}
	return b, nil
}
