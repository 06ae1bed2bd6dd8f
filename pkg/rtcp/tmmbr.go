package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

// tmmbEntrySize is one TMMBR/TMMBN FCI entry (RFC 5104 §4.2.1): SSRC +
// packed {exponent, mantissa, overhead}.
const tmmbEntrySize = 8

// TmmbItem is one bounded-bitrate entry: MaxBitrate = Mantissa *
// 2^Exponent, plus the measured packet overhead in bytes (RTP/IP/UDP
// header estimate above the media payload).
type TmmbItem struct {
	SSRC        uint32
	MaxBitrate  uint64 // bits per second
	Overhead    uint16 // bytes, 9 bits on the wire
}

func packTmmbValue(item TmmbItem) uint32 {
	mantissa, exponent := encodeRembBitrate(item.MaxBitrate)
	if mantissa > 0x1FFFF {
		mantissa = 0x1FFFF
	}
	overhead := item.Overhead
	if overhead > 0x1FF {
		overhead = 0x1FF
	}
	return uint32(exponent)<<26 | mantissa<<9 | uint32(overhead)
}

func unpackTmmbValue(v uint32) TmmbItem {
	exponent := uint8(v >> 26)
	mantissa := (v >> 9) & 0x1FFFF
	overhead := uint16(v & 0x1FF)
	return TmmbItem{MaxBitrate: decodeRembBitrate(mantissa, exponent), Overhead: overhead}
}

func marshalTmmbItems(buf []byte, items []TmmbItem) {
	off := 0
	for _, it := range items {
		bitio.PutUint32(buf[off:off+4], it.SSRC)
		bitio.PutUint32(buf[off+4:off+8], packTmmbValue(it))
		off += tmmbEntrySize
	}
}

func parseTmmbItems(data []byte) []TmmbItem {
	var items []TmmbItem
	off := 0
	for off+tmmbEntrySize <= len(data) {
		item := unpackTmmbValue(bitio.Uint32(data[off+4 : off+8]))
		item.SSRC = bitio.Uint32(data[off : off+4])
		items = append(items, item)
		off += tmmbEntrySize
	}
	return items
}

// TransportLayerMaxBitrateRequest is RFC 5104 §4.2.1 (RTPFB, FMT=3): a
// request that the sender's bitrate be bounded.
type TransportLayerMaxBitrateRequest struct {
	CommonFeedback
	Items []TmmbItem
}

func (t *TransportLayerMaxBitrateRequest) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: FmtTMMBR, Type: TypeRTPFB, Length: uint16(t.PacketSize()/4 - 1)}
}

func (t *TransportLayerMaxBitrateRequest) PacketSize() int {
	return 12 + len(t.Items)*tmmbEntrySize
}

func (t *TransportLayerMaxBitrateRequest) Marshal() ([]byte, error) {
	buf := make([]byte, t.PacketSize())
	writeCommonHeader(buf, FmtTMMBR, TypeRTPFB, uint16(len(buf)/4-1))
	t.CommonFeedback.marshalTo(buf[4:12])
	marshalTmmbItems(buf[12:], t.Items)
	return buf, nil
}

// ParseTransportLayerMaxBitrateRequest parses a TMMBR packet.
func ParseTransportLayerMaxBitrateRequest(h CommonHeader, data []byte) (*TransportLayerMaxBitrateRequest, error) {
	if h.Type != TypeRTPFB || h.Count != FmtTMMBR {
		return nil, ErrWrongType
	}
	cf, err := parseCommonFeedback(data[4:])
	if err != nil {
		return nil, err
	}
	return &TransportLayerMaxBitrateRequest{CommonFeedback: cf, Items: parseTmmbItems(data[12:])}, nil
}

// TransportLayerMaxBitrateNotification is RFC 5104 §4.2.2 (RTPFB,
// FMT=4): a bounding-value acknowledgement broadcast to all senders.
type TransportLayerMaxBitrateNotification struct {
	CommonFeedback
	Items []TmmbItem
}

func (t *TransportLayerMaxBitrateNotification) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: FmtTMMBN, Type: TypeRTPFB, Length: uint16(t.PacketSize()/4 - 1)}
}

func (t *TransportLayerMaxBitrateNotification) PacketSize() int {
	return 12 + len(t.Items)*tmmbEntrySize
}

func (t *TransportLayerMaxBitrateNotification) Marshal() ([]byte, error) {
	buf := make([]byte, t.PacketSize())
	writeCommonHeader(buf, FmtTMMBN, TypeRTPFB, uint16(len(buf)/4-1))
	t.CommonFeedback.marshalTo(buf[4:12])
	marshalTmmbItems(buf[12:], t.Items)
	return buf, nil
}

// ParseTransportLayerMaxBitrateNotification parses a TMMBN packet.
func ParseTransportLayerMaxBitrateNotification(h CommonHeader, data []byte) (*TransportLayerMaxBitrateNotification, error) {
	if h.Type != TypeRTPFB || h.Count != FmtTMMBN {
		return nil, ErrWrongType
	}
	cf, err := parseCommonFeedback(data[4:])
	if err != nil {
		return nil, err
	}
	return &TransportLayerMaxBitrateNotification{CommonFeedback: cf, Items: parseTmmbItems(data[12:])}, nil
}
