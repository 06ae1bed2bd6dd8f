package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

const reportBlockSize = 24

// ReportBlock is one SR/RR reception report, spec.md §3.
type ReportBlock struct {
	SSRC                 uint32
	FractionLost         uint8
	CumulativeLost       int32 // 24-bit signed on the wire
	ExtendedHighestSeqNo uint32
	Jitter               uint32
	LastSR               uint32
	DelaySinceLastSR     uint32
}

func (rb ReportBlock) marshalTo(buf []byte) {
	bitio.PutUint32(buf[0:4], rb.SSRC)
	buf[4] = rb.FractionLost
	bitio.PutInt24(buf[5:8], rb.CumulativeLost)
	bitio.PutUint32(buf[8:12], rb.ExtendedHighestSeqNo)
	bitio.PutUint32(buf[12:16], rb.Jitter)
	bitio.PutUint32(buf[16:20], rb.LastSR)
	bitio.PutUint32(buf[20:24], rb.DelaySinceLastSR)
}

func parseReportBlock(data []byte) ReportBlock {
	return ReportBlock{
		SSRC:                 bitio.Uint32(data[0:4]),
		FractionLost:         data[4],
		CumulativeLost:       bitio.Int24(data[5:8]),
		ExtendedHighestSeqNo: bitio.Uint32(data[8:12]),
		Jitter:               bitio.Uint32(data[12:16]),
		LastSR:               bitio.Uint32(data[16:20]),
		DelaySinceLastSR:     bitio.Uint32(data[20:24]),
	}
}
