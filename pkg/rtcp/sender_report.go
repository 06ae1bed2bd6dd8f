package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

// SenderReport is RFC 3550 §6.4.1, adapted from the teacher's
// SenderReport (pkg/rtp/rtcp.go), generalized to the shared Packet
// contract.
type SenderReport struct {
	SSRC          uint32
	NTPTime       uint64
	RTPTime       uint32
	PacketCount   uint32
	OctetCount    uint32
	ReportBlocks  []ReportBlock
}

func (sr *SenderReport) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: uint8(len(sr.ReportBlocks)), Type: TypeSR, Length: uint16(sr.PacketSize()/4 - 1)}
}

func (sr *SenderReport) PacketSize() int {
	return 4 + 24 + len(sr.ReportBlocks)*reportBlockSize
}

func (sr *SenderReport) Marshal() ([]byte, error) {
	buf := make([]byte, sr.PacketSize())
	writeCommonHeader(buf, uint8(len(sr.ReportBlocks)), TypeSR, uint16(len(buf)/4-1))
	bitio.PutUint32(buf[4:8], sr.SSRC)
	bitio.PutUint64(buf[8:16], sr.NTPTime)
	bitio.PutUint32(buf[16:20], sr.RTPTime)
	bitio.PutUint32(buf[20:24], sr.PacketCount)
	bitio.PutUint32(buf[24:28], sr.OctetCount)
	off := 28
	for _, rb := range sr.ReportBlocks {
		rb.marshalTo(buf[off : off+reportBlockSize])
		off += reportBlockSize
	}
	return buf, nil
}

// ParseSenderReport parses a Sender Report given its already-validated
// common header and the full packet bytes (header included).
func ParseSenderReport(h CommonHeader, data []byte) (*SenderReport, error) {
	if h.Type != TypeSR {
		return nil, ErrWrongType
	}
	if len(data) < 28 {
		return nil, ErrShortBuffer
	}
	sr := &SenderReport{
		SSRC:        bitio.Uint32(data[4:8]),
		NTPTime:     bitio.Uint64(data[8:16]),
		RTPTime:     bitio.Uint32(data[16:20]),
		PacketCount: bitio.Uint32(data[20:24]),
		OctetCount:  bitio.Uint32(data[24:28]),
	}
	off := 28
	for i := 0; i < int(h.Count); i++ {
		if off+reportBlockSize > len(data) {
			return nil, ErrShortBuffer
		}
		sr.ReportBlocks = append(sr.ReportBlocks, parseReportBlock(data[off:off+reportBlockSize]))
		off += reportBlockSize
	}
	return sr, nil
}
