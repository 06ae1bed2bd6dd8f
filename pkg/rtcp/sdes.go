package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

// SDES item types, RFC 3550 §6.5.
const (
	SDESCNAME uint8 = 1
	SDESName  uint8 = 2
	SDESEmail uint8 = 3
	SDESPhone uint8 = 4
	SDESLoc   uint8 = 5
	SDESTool  uint8 = 6
	SDESNote  uint8 = 7
	SDESPriv  uint8 = 8
)

// SDESItem is one {type, text} entry within a chunk.
type SDESItem struct {
	Type uint8
	Text []byte
}

// SDESChunk is one source's set of SDES items, required to contain a
// CNAME to be retained by the parser (spec.md §4.2).
type SDESChunk struct {
	Source uint32
	Items  []SDESItem
}

func (c SDESChunk) hasCNAME() bool {
	for _, it := range c.Items {
		if it.Type == SDESCNAME {
			return true
		}
	}
	return false
}

func (c SDESChunk) marshaledSize() int {
	size := 4
	for _, it := range c.Items {
		size += 2 + len(it.Text)
	}
	size++ // null terminator
	if size%4 != 0 {
		size += 4 - size%4
	}
	return size
}

// SourceDescription is RFC 3550 §6.5, adapted from the teacher's
// SourceDescriptionPacket (pkg/rtp/rtcp.go).
type SourceDescription struct {
	Chunks []SDESChunk
}

func (s *SourceDescription) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: uint8(len(s.Chunks)), Type: TypeSDES, Length: uint16(s.PacketSize()/4 - 1)}
}

func (s *SourceDescription) PacketSize() int {
	size := 4
	for _, c := range s.Chunks {
		size += c.marshaledSize()
	}
	return size
}

func (s *SourceDescription) Marshal() ([]byte, error) {
	buf := make([]byte, s.PacketSize())
	writeCommonHeader(buf, uint8(len(s.Chunks)), TypeSDES, uint16(len(buf)/4-1))
	off := 4
	for _, c := range s.Chunks {
		bitio.PutUint32(buf[off:off+4], c.Source)
		off += 4
		for _, it := range c.Items {
			buf[off] = it.Type
			buf[off+1] = byte(len(it.Text))
			copy(buf[off+2:], it.Text)
			off += 2 + len(it.Text)
		}
		buf[off] = 0 // terminator
		off++
		for off%4 != 0 {
			buf[off] = 0
			off++
		}
	}
	return buf, nil
}

// ParseSourceDescription parses an SDES packet. Non-CNAME items are
// tolerated and preserved, but a chunk is only retained if it carries a
// CNAME (spec.md §4.2); padding bytes within chunks are skipped.
func ParseSourceDescription(h CommonHeader, data []byte) (*SourceDescription, error) {
	if h.Type != TypeSDES {
		return nil, ErrWrongType
	}
	s := &SourceDescription{}
	off := 4
	for i := 0; i < int(h.Count); i++ {
		if off+4 > len(data) {
			return nil, ErrShortBuffer
		}
		chunk := SDESChunk{Source: bitio.Uint32(data[off : off+4])}
		off += 4
		for off < len(data) {
			if data[off] == 0 {
				off++
				break
			}
			if off+2 > len(data) {
				return nil, ErrShortBuffer
			}
			typ := data[off]
			l := int(data[off+1])
			off += 2
			if off+l > len(data) {
				return nil, ErrShortBuffer
			}
			text := make([]byte, l)
			copy(text, data[off:off+l])
			off += l
			chunk.Items = append(chunk.Items, SDESItem{Type: typ, Text: text})
		}
		for off%4 != 0 && off < len(data) {
			off++
		}
		if chunk.hasCNAME() {
			s.Chunks = append(s.Chunks, chunk)
		}
	}
	return s, nil
}
