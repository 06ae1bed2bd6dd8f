package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

// xrBlockHeaderSize is the common XR report block header: type(1) +
// reserved/type-specific(1) + block-length-in-words(2).
const xrBlockHeaderSize = 4

// RRTRBlock is RFC 3611 §4.4, the Receiver Reference Time Report block:
// an NTP timestamp carried inside XR so the companion DLRR block on the
// next RTCP cycle can compute RTT without needing an SR.
type RRTRBlock struct {
	NTPTimestamp uint64
}

func (b RRTRBlock) blockType() uint8 { return XRBlockRRTR }
func (b RRTRBlock) lengthWords() uint16 { return 2 }

func (b RRTRBlock) marshalTo(buf []byte) {
	buf[0] = XRBlockRRTR
	buf[1] = 0
	bitio.PutUint16(buf[2:4], 2)
	bitio.PutUint64(buf[4:12], b.NTPTimestamp)
}

func parseRRTRBlock(data []byte) RRTRBlock {
	return RRTRBlock{NTPTimestamp: bitio.Uint64(data[4:12])}
}

// DLRRSubBlock is one {SSRC, LastRR, DelaySinceLastRR} triple within a
// DLRR block (RFC 3611 §4.5).
type DLRRSubBlock struct {
	SSRC             uint32
	LastRR           uint32
	DelaySinceLastRR uint32
}

// DLRRBlock is RFC 3611 §4.5, the Delay Since Last Receiver Report
// block — the RTT-closing counterpart to RRTR.
type DLRRBlock struct {
	Items []DLRRSubBlock
}

func (b DLRRBlock) blockType() uint8 { return XRBlockDLRR }

func (b DLRRBlock) lengthWords() uint16 { return uint16(len(b.Items) * 3) }

func (b DLRRBlock) marshalTo(buf []byte) {
	buf[0] = XRBlockDLRR
	buf[1] = 0
	bitio.PutUint16(buf[2:4], b.lengthWords())
	off := 4
	for _, it := range b.Items {
		bitio.PutUint32(buf[off:off+4], it.SSRC)
		bitio.PutUint32(buf[off+4:off+8], it.LastRR)
		bitio.PutUint32(buf[off+8:off+12], it.DelaySinceLastRR)
		off += 12
	}
}

func parseDLRRBlock(data []byte, lengthWords uint16) DLRRBlock {
	b := DLRRBlock{}
	off := 4
	n := int(lengthWords) / 3
	for i := 0; i < n && off+12 <= len(data); i++ {
		b.Items = append(b.Items, DLRRSubBlock{
			SSRC:             bitio.Uint32(data[off : off+4]),
			LastRR:           bitio.Uint32(data[off+4 : off+8]),
			DelaySinceLastRR: bitio.Uint32(data[off+8 : off+12]),
		})
		off += 12
	}
	return b
}

// TargetBitrateItem is one spatial/temporal-layer entry within a Target
// Bitrate block (draft-ietf-avtcore-ccm-tmmbr / used by libwebrtc's
// send-side BWE reporting, grounded per SPEC_FULL.md §12).
type TargetBitrateItem struct {
	SpatialLayer  uint8
	TemporalLayer uint8
	TargetBitrateKbps uint32
}

// TargetBitrateBlock carries the per-layer bitrate allocation the
// encoder is currently targeting, used by the send side to communicate
// simulcast/SVC layer budgets back through XR.
type TargetBitrateBlock struct {
	Items []TargetBitrateItem
}

func (b TargetBitrateBlock) blockType() uint8 { return XRBlockTargetBitrate }

func (b TargetBitrateBlock) lengthWords() uint16 { return uint16(len(b.Items)) }

func (b TargetBitrateBlock) marshalTo(buf []byte) {
	buf[0] = XRBlockTargetBitrate
	buf[1] = 0
	bitio.PutUint16(buf[2:4], b.lengthWords())
	off := 4
	for _, it := range b.Items {
		raw := uint32(it.SpatialLayer)<<28 | uint32(it.TemporalLayer&0xF)<<24 | it.TargetBitrateKbps&0x00FFFFFF
		bitio.PutUint32(buf[off:off+4], raw)
		off += 4
	}
}

func parseTargetBitrateBlock(data []byte, lengthWords uint16) TargetBitrateBlock {
	b := TargetBitrateBlock{}
	off := 4
	n := int(lengthWords)
	for i := 0; i < n && off+4 <= len(data); i++ {
		raw := bitio.Uint32(data[off : off+4])
		b.Items = append(b.Items, TargetBitrateItem{
			SpatialLayer:      uint8(raw >> 28),
			TemporalLayer:     uint8(raw>>24) & 0xF,
			TargetBitrateKbps: raw & 0x00FFFFFF,
		})
		off += 4
	}
	return b
}

// XRReport is RFC 3611's Extended Report packet. Sub-blocks are
// coalesced in RRTR → DLRR → TargetBitrate order on marshal, per
// SPEC_FULL.md §12 (matching original_source's rtcp_xr_packet.cc
// append order).
type XRReport struct {
	SenderSSRC    uint32
	RRTR          *RRTRBlock
	DLRR          *DLRRBlock
	TargetBitrate *TargetBitrateBlock
}

func (x *XRReport) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: 0, Type: TypeXR, Length: uint16(x.PacketSize()/4 - 1)}
}

func (x *XRReport) PacketSize() int {
	size := 8
	if x.RRTR != nil {
		size += xrBlockHeaderSize + int(x.RRTR.lengthWords())*4
	}
	if x.DLRR != nil {
		size += xrBlockHeaderSize + int(x.DLRR.lengthWords())*4
	}
	if x.TargetBitrate != nil {
		size += xrBlockHeaderSize + int(x.TargetBitrate.lengthWords())*4
	}
	return size
}

func (x *XRReport) Marshal() ([]byte, error) {
	buf := make([]byte, x.PacketSize())
	writeCommonHeader(buf, 0, TypeXR, uint16(len(buf)/4-1))
	bitio.PutUint32(buf[4:8], x.SenderSSRC)
	off := 8
	if x.RRTR != nil {
		n := xrBlockHeaderSize + int(x.RRTR.lengthWords())*4
		x.RRTR.marshalTo(buf[off : off+n])
		off += n
	}
	if x.DLRR != nil {
		n := xrBlockHeaderSize + int(x.DLRR.lengthWords())*4
		x.DLRR.marshalTo(buf[off : off+n])
		off += n
	}
	if x.TargetBitrate != nil {
		n := xrBlockHeaderSize + int(x.TargetBitrate.lengthWords())*4
		x.TargetBitrate.marshalTo(buf[off : off+n])
		off += n
	}
	return buf, nil
}

// ParseXRReport parses an Extended Report packet, dispatching each
// sub-block by its type octet. Unknown block types are skipped using
// their declared length so future block types don't break parsing.
func ParseXRReport(h CommonHeader, data []byte) (*XRReport, error) {
	if h.Type != TypeXR {
		return nil, ErrWrongType
	}
	if len(data) < 8 {
		return nil, ErrShortBuffer
	}
	x := &XRReport{SenderSSRC: bitio.Uint32(data[4:8])}
	off := 8
	for off+xrBlockHeaderSize <= len(data) {
		blockType := data[off]
		lengthWords := bitio.Uint16(data[off+2 : off+4])
		blockBytes := int(lengthWords)*4 + xrBlockHeaderSize
		if off+blockBytes > len(data) {
			return nil, ErrShortBuffer
		}
		block := data[off : off+blockBytes]
		switch blockType {
		case XRBlockRRTR:
			v := parseRRTRBlock(block)
			x.RRTR = &v
		case XRBlockDLRR:
			v := parseDLRRBlock(block, lengthWords)
			x.DLRR = &v
		case XRBlockTargetBitrate:
			v := parseTargetBitrateBlock(block, lengthWords)
			x.TargetBitrate = &v
		}
		off += blockBytes
	}
	return x, nil
}
