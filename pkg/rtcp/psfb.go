package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

// PictureLossIndication is RFC 4585 §6.3.1 (PSFB, FMT=1). No payload
// body beyond the common feedback header.
type PictureLossIndication struct {
	CommonFeedback
}

func (p *PictureLossIndication) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: FmtPLI, Type: TypePSFB, Length: uint16(p.PacketSize()/4 - 1)}
}

func (p *PictureLossIndication) PacketSize() int { return 12 }

func (p *PictureLossIndication) Marshal() ([]byte, error) {
	buf := make([]byte, 12)
	writeCommonHeader(buf, FmtPLI, TypePSFB, 2)
	p.CommonFeedback.marshalTo(buf[4:12])
	return buf, nil
}

// ParsePictureLossIndication parses a PLI packet.
func ParsePictureLossIndication(h CommonHeader, data []byte) (*PictureLossIndication, error) {
	if h.Type != TypePSFB || h.Count != FmtPLI {
		return nil, ErrWrongType
	}
	cf, err := parseCommonFeedback(data[4:])
	if err != nil {
		return nil, err
	}
	return &PictureLossIndication{CommonFeedback: cf}, nil
}

// fciEntrySize is one Full Intra Request FCI entry: SSRC + seq-nr byte +
// 3 reserved bytes.
const fciEntrySize = 8

// FIREntry is one requested source within a FIR packet (RFC 5104 §4.3.1).
type FIREntry struct {
	SSRC          uint32
	SequenceNumber uint8
}

// FullIntraRequest is RFC 5104 §4.3.1 (PSFB, FMT=4). Unlike PLI it can
// target multiple sources in a single packet.
type FullIntraRequest struct {
	CommonFeedback
	Entries []FIREntry
}

func (f *FullIntraRequest) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: FmtFIR, Type: TypePSFB, Length: uint16(f.PacketSize()/4 - 1)}
}

func (f *FullIntraRequest) PacketSize() int {
	return 12 + len(f.Entries)*fciEntrySize
}

func (f *FullIntraRequest) Marshal() ([]byte, error) {
	buf := make([]byte, f.PacketSize())
	writeCommonHeader(buf, FmtFIR, TypePSFB, uint16(len(buf)/4-1))
	f.CommonFeedback.marshalTo(buf[4:12])
	off := 12
	for _, e := range f.Entries {
		bitio.PutUint32(buf[off:off+4], e.SSRC)
		buf[off+4] = e.SequenceNumber
		off += fciEntrySize
	}
	return buf, nil
}

// ParseFullIntraRequest parses a FIR packet.
func ParseFullIntraRequest(h CommonHeader, data []byte) (*FullIntraRequest, error) {
	if h.Type != TypePSFB || h.Count != FmtFIR {
		return nil, ErrWrongType
	}
	cf, err := parseCommonFeedback(data[4:])
	if err != nil {
		return nil, err
	}
	f := &FullIntraRequest{CommonFeedback: cf}
	off := 12
	for off+fciEntrySize <= len(data) {
		f.Entries = append(f.Entries, FIREntry{
			SSRC:           bitio.Uint32(data[off : off+4]),
			SequenceNumber: data[off+4],
		})
		off += fciEntrySize
	}
	return f, nil
}
