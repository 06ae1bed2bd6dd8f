package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

// Chunk type tags for the transport-wide congestion control feedback
// format (draft-holmer-rmcat-transport-wide-cc-extensions-01 §3.1),
// grounded on other_examples' khuangyl-rtcp transport_layer_cc.go
// bit-packing style.
const (
	twccChunkTypeRunLength  = 0
	twccChunkTypeStatusVec  = 1
	twccSymbolNotReceived   = 0
	twccSymbolSmallDelta    = 1
	twccSymbolLargeDelta    = 2
	twccMaxRunLength        = 0x1FFF
	twccMaxOneBitVectorSize = 14
	twccMaxTwoBitVectorSize = 7
)

// PacketStatus is one transport-wide sequence number's received/delta
// outcome.
type PacketStatus struct {
	Received bool
	// DeltaTicks is in 250us units (small delta: 0..255 ticks positive
	// only; large delta: signed 16-bit ticks). Ignored when !Received.
	DeltaTicks int32
	LargeDelta bool
}

// TransportFeedback is the RTPFB FMT=15 transport-wide feedback packet.
// No teacher equivalent; grounded on other_examples'
// khuangyl-rtcp/transport_layer_cc.go encoding and
// HMasataka-ion-sfu/pkg/twcc's responder shape.
type TransportFeedback struct {
	CommonFeedback
	BaseSequenceNumber uint16
	ReferenceTime      int32 // 24-bit signed, 64ms units
	FeedbackPacketCount uint8
	Statuses           []PacketStatus
}

func symbolSize(s PacketStatus) uint8 {
	if !s.Received {
		return twccSymbolNotReceived
	}
	if s.LargeDelta {
		return twccSymbolLargeDelta
	}
	return twccSymbolSmallDelta
}

// encodeChunks packs Statuses into run-length and status-vector chunks,
// greedily preferring run-length for long uniform runs and falling back
// to a 2-bit status vector for mixed runs, matching the encoder
// structure used by khuangyl-rtcp/transport_layer_cc.go.
func encodeChunks(statuses []PacketStatus) []uint16 {
	var chunks []uint16
	i := 0
	for i < len(statuses) {
		runSymbol := symbolSize(statuses[i])
		runLen := 1
		for i+runLen < len(statuses) && symbolSize(statuses[i+runLen]) == runSymbol && runLen < twccMaxRunLength {
			runLen++
		}
		if runLen >= 7 {
			chunks = append(chunks, uint16(twccChunkTypeRunLength)<<15|uint16(runSymbol)<<13|uint16(runLen))
			i += runLen
			continue
		}
		// emit a two-bit status vector covering up to 7 symbols
		n := len(statuses) - i
		if n > twccMaxTwoBitVectorSize {
			n = twccMaxTwoBitVectorSize
		}
		var vec uint16 = uint16(twccChunkTypeStatusVec)<<15 | 1<<14
		for j := 0; j < n; j++ {
			vec |= uint16(symbolSize(statuses[i+j])) << uint(12-2*j)
		}
		chunks = append(chunks, vec)
		i += n
	}
	return chunks
}

func decodeChunk(chunk uint16) (symbols []uint8) {
	chunkType := chunk >> 15
	if chunkType == twccChunkTypeRunLength {
		symbol := uint8((chunk >> 13) & 0x3)
		runLen := int(chunk & 0x1FFF)
		symbols = make([]uint8, runLen)
		for i := range symbols {
			symbols[i] = symbol
		}
		return symbols
	}
	vecType := (chunk >> 14) & 0x1
	if vecType == 1 {
		// two-bit vector, 7 symbols
		symbols = make([]uint8, twccMaxTwoBitVectorSize)
		for i := range symbols {
			symbols[i] = uint8((chunk >> uint(12-2*i)) & 0x3)
		}
		return symbols
	}
	// one-bit vector, 14 symbols
	symbols = make([]uint8, twccMaxOneBitVectorSize)
	for i := range symbols {
		symbols[i] = uint8((chunk >> uint(13-i)) & 0x1)
	}
	return symbols
}

func (t *TransportFeedback) PacketSize() int {
	chunks := encodeChunks(t.Statuses)
	size := 20 + len(chunks)*2
	for _, s := range t.Statuses {
		if !s.Received {
			continue
		}
		if s.LargeDelta {
			size += 2
		} else {
			size++
		}
	}
	for size%4 != 0 {
		size++
	}
	return size
}

func (t *TransportFeedback) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: FmtTransportFeedback, Type: TypeRTPFB, Length: uint16(t.PacketSize()/4 - 1)}
}

func (t *TransportFeedback) Marshal() ([]byte, error) {
	buf := make([]byte, t.PacketSize())
	writeCommonHeader(buf, FmtTransportFeedback, TypeRTPFB, uint16(len(buf)/4-1))
	t.CommonFeedback.marshalTo(buf[4:12])
	bitio.PutUint16(buf[12:14], t.BaseSequenceNumber)
	bitio.PutUint16(buf[14:16], uint16(len(t.Statuses)))
	bitio.PutInt24(buf[16:19], t.ReferenceTime)
	buf[19] = t.FeedbackPacketCount
	off := 20
	chunks := encodeChunks(t.Statuses)
	for _, c := range chunks {
		bitio.PutUint16(buf[off:off+2], c)
		off += 2
	}
	for _, s := range t.Statuses {
		if !s.Received {
			continue
		}
		if s.LargeDelta {
			bitio.PutInt16(buf[off:off+2], int16(s.DeltaTicks))
			off += 2
		} else {
			buf[off] = byte(s.DeltaTicks)
			off++
		}
	}
	return buf, nil
}

// ParseTransportFeedback parses a transport-wide congestion control
// feedback packet.
func ParseTransportFeedback(h CommonHeader, data []byte) (*TransportFeedback, error) {
	if h.Type != TypeRTPFB || h.Count != FmtTransportFeedback {
		return nil, ErrWrongType
	}
	if len(data) < 20 {
		return nil, ErrShortBuffer
	}
	cf, err := parseCommonFeedback(data[4:])
	if err != nil {
		return nil, err
	}
	t := &TransportFeedback{
		CommonFeedback:      cf,
		BaseSequenceNumber:  bitio.Uint16(data[12:14]),
		ReferenceTime:       bitio.Int24(data[16:19]),
		FeedbackPacketCount: data[19],
	}
	packetCount := int(bitio.Uint16(data[14:16]))
	off := 20
	var symbols []uint8
	for len(symbols) < packetCount {
		if off+2 > len(data) {
			return nil, ErrShortBuffer
		}
		chunk := bitio.Uint16(data[off : off+2])
		off += 2
		symbols = append(symbols, decodeChunk(chunk)...)
	}
	symbols = symbols[:packetCount]
	for _, sym := range symbols {
		switch sym {
		case twccSymbolNotReceived:
			t.Statuses = append(t.Statuses, PacketStatus{Received: false})
		case twccSymbolSmallDelta:
			if off+1 > len(data) {
				return nil, ErrShortBuffer
			}
			t.Statuses = append(t.Statuses, PacketStatus{Received: true, DeltaTicks: int32(data[off])})
			off++
		case twccSymbolLargeDelta:
			if off+2 > len(data) {
				return nil, ErrShortBuffer
			}
			t.Statuses = append(t.Statuses, PacketStatus{Received: true, LargeDelta: true, DeltaTicks: int32(bitio.Int16(data[off : off+2]))})
			off += 2
		}
	}
	return t, nil
}
