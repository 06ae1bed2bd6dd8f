package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

// ReceiverReport is RFC 3550 §6.4.2, adapted from the teacher's
// ReceiverReport (pkg/rtp/rtcp.go).
type ReceiverReport struct {
	SSRC         uint32
	ReportBlocks []ReportBlock
}

func (rr *ReceiverReport) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: uint8(len(rr.ReportBlocks)), Type: TypeRR, Length: uint16(rr.PacketSize()/4 - 1)}
}

func (rr *ReceiverReport) PacketSize() int {
	return 8 + len(rr.ReportBlocks)*reportBlockSize
}

func (rr *ReceiverReport) Marshal() ([]byte, error) {
	buf := make([]byte, rr.PacketSize())
	writeCommonHeader(buf, uint8(len(rr.ReportBlocks)), TypeRR, uint16(len(buf)/4-1))
	bitio.PutUint32(buf[4:8], rr.SSRC)
	off := 8
	for _, rb := range rr.ReportBlocks {
		rb.marshalTo(buf[off : off+reportBlockSize])
		off += reportBlockSize
	}
	return buf, nil
}

// ParseReceiverReport parses a Receiver Report.
func ParseReceiverReport(h CommonHeader, data []byte) (*ReceiverReport, error) {
	if h.Type != TypeRR {
		return nil, ErrWrongType
	}
	if len(data) < 8 {
		return nil, ErrShortBuffer
	}
	rr := &ReceiverReport{SSRC: bitio.Uint32(data[4:8])}
	off := 8
	for i := 0; i < int(h.Count); i++ {
		if off+reportBlockSize > len(data) {
			return nil, ErrShortBuffer
		}
		rr.ReportBlocks = append(rr.ReportBlocks, parseReportBlock(data[off:off+reportBlockSize]))
		off += reportBlockSize
	}
	return rr, nil
}
