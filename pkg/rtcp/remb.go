package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

// rembUniqueIdentifier is the 4-byte "REMB" ASCII tag that distinguishes
// a Receiver Estimated Max Bitrate application feedback message from
// other AFB (PSFB, FMT=15) payloads, per
// draft-alvestrand-rmcat-remb-03 §2.2.
var rembUniqueIdentifier = [4]byte{'R', 'E', 'M', 'B'}

// ReceiverEstimatedMaxBitrate carries the receive-side bandwidth
// estimate back to the sender. Mantissa/exponent encoding matches the
// draft: Bitrate = Mantissa * 2^Exponent, Exponent is 6 bits,
// Mantissa 18 bits.
type ReceiverEstimatedMaxBitrate struct {
	CommonFeedback
	SSRCs   []uint32
	Bitrate uint64 // bits per second
}

func (r *ReceiverEstimatedMaxBitrate) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: FmtAFB, Type: TypePSFB, Length: uint16(r.PacketSize()/4 - 1)}
}

func (r *ReceiverEstimatedMaxBitrate) PacketSize() int {
	return 12 + 8 + len(r.SSRCs)*4
}

func encodeRembBitrate(bitrate uint64) (mantissa uint32, exponent uint8) {
	exponent = 0
	for bitrate >= (1 << 18) {
		bitrate >>= 1
		exponent++
	}
	return uint32(bitrate), exponent
}

func decodeRembBitrate(mantissa uint32, exponent uint8) uint64 {
	return uint64(mantissa) << uint(exponent)
}

func (r *ReceiverEstimatedMaxBitrate) Marshal() ([]byte, error) {
	buf := make([]byte, r.PacketSize())
	writeCommonHeader(buf, FmtAFB, TypePSFB, uint16(len(buf)/4-1))
	r.CommonFeedback.marshalTo(buf[4:12])
	copy(buf[12:16], rembUniqueIdentifier[:])
	buf[16] = byte(len(r.SSRCs))
	mantissa, exponent := encodeRembBitrate(r.Bitrate)
	buf[17] = exponent<<2 | byte(mantissa>>16)&0x3
	buf[18] = byte(mantissa >> 8)
	buf[19] = byte(mantissa)
	off := 20
	for _, ssrc := range r.SSRCs {
		bitio.PutUint32(buf[off:off+4], ssrc)
		off += 4
	}
	return buf, nil
}

// ParseReceiverEstimatedMaxBitrate parses a REMB packet.
func ParseReceiverEstimatedMaxBitrate(h CommonHeader, data []byte) (*ReceiverEstimatedMaxBitrate, error) {
	if h.Type != TypePSFB || h.Count != FmtAFB {
		return nil, ErrWrongType
	}
	if len(data) < 20 {
		return nil, ErrShortBuffer
	}
	cf, err := parseCommonFeedback(data[4:])
	if err != nil {
		return nil, err
	}
	if data[12] != 'R' || data[13] != 'E' || data[14] != 'M' || data[15] != 'B' {
		return nil, ErrWrongType
	}
	numSSRC := int(data[16])
	exponent := data[17] >> 2
	mantissa := uint32(data[17]&0x3)<<16 | uint32(data[18])<<8 | uint32(data[19])
	r := &ReceiverEstimatedMaxBitrate{
		CommonFeedback: cf,
		Bitrate:        decodeRembBitrate(mantissa, exponent),
	}
	off := 20
	for i := 0; i < numSSRC; i++ {
		if off+4 > len(data) {
			return nil, ErrShortBuffer
		}
		r.SSRCs = append(r.SSRCs, bitio.Uint32(data[off:off+4]))
		off += 4
	}
	return r, nil
}
