package rtppkt

import "github.com/arzzra/rtcore/pkg/bitio"

// ExtensionType is the process-independent mapping from a logical RTP
// header extension to its local one-byte (1..14) or two-byte (1..255) id,
// per spec.md §4.1's extension registry.
type ExtensionType int

const (
	// ExtAbsSendTime is a 24-bit fixed-point NTP-like timestamp
	// (http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time).
	ExtAbsSendTime ExtensionType = iota + 1
	// ExtAbsCaptureTime is a 56-bit (or 112-bit with clock offset) NTP
	// timestamp of capture (draft-ietf-avtext-abs-capture-time).
	ExtAbsCaptureTime
	// ExtTransmissionOffset is a 24-bit signed offset, in timestamp
	// units, between the send time and the RTP capture time.
	ExtTransmissionOffset
	// ExtTransportSequenceNumber is a 16-bit transport-wide sequence
	// number used for congestion feedback (TSN in the glossary).
	ExtTransportSequenceNumber
	// ExtPlayoutDelayLimits carries two 12-bit values, min/max playout
	// delay, in 10 ms units, capped at 40.95s.
	ExtPlayoutDelayLimits
	// ExtMID is a string extension carrying the SDP media identifier.
	ExtMID
	// ExtStreamID is a string extension carrying a stream/track id,
	// at most 16 bytes.
	ExtStreamID
)

// ExtensionMap is a caller-supplied local-id ↔ logical-type binding,
// shared read-only by sender and receiver per spec.md §3's SessionIdentity.
type ExtensionMap struct {
	byID   map[uint8]ExtensionType
	byType map[ExtensionType]uint8
}

// NewExtensionMap returns an empty ExtensionMap.
func NewExtensionMap() *ExtensionMap {
	return &ExtensionMap{
		byID:   make(map[uint8]ExtensionType),
		byType: make(map[ExtensionType]uint8),
	}
}

// Register binds a local id to a logical extension type. id must be in
// 1..14 if the packet only ever uses one-byte form, or 1..255 for
// two-byte form; the packet codec decides the wire form per §6.
func (m *ExtensionMap) Register(id uint8, typ ExtensionType) {
	m.byID[id] = typ
	m.byType[typ] = id
}

// IDFor returns the local id registered for typ, and whether it is
// registered at all.
func (m *ExtensionMap) IDFor(typ ExtensionType) (uint8, bool) {
	id, ok := m.byType[typ]
	return id, ok
}

// TypeFor returns the logical type registered for a local id.
func (m *ExtensionMap) TypeFor(id uint8) (ExtensionType, bool) {
	typ, ok := m.byID[id]
	return typ, ok
}

// --- fixed byte-layout encode/decode helpers, one per logical type ---

// EncodeAbsSendTime packs t (already a 24-bit fixed point 6.18 value) into
// 3 bytes.
func EncodeAbsSendTime(v uint32) []byte {
	b := make([]byte, 3)
	bitio.PutUint24(b, v&0x00FFFFFF)
	return b
}

// DecodeAbsSendTime unpacks a 3-byte abs-send-time value.
func DecodeAbsSendTime(b []byte) uint32 {
	if len(b) < 3 {
		return 0
	}
	return bitio.Uint24(b)
}

// EncodeTransmissionOffset packs a signed 24-bit offset into 3 bytes.
func EncodeTransmissionOffset(v int32) []byte {
	b := make([]byte, 3)
	bitio.PutInt24(b, v)
	return b
}

// DecodeTransmissionOffset unpacks a signed 24-bit offset.
func DecodeTransmissionOffset(b []byte) int32 {
	if len(b) < 3 {
		return 0
	}
	return bitio.Int24(b)
}

// EncodeTransportSequenceNumber packs a 16-bit TSN.
func EncodeTransportSequenceNumber(v uint16) []byte {
	b := make([]byte, 2)
	bitio.PutUint16(b, v)
	return b
}

// DecodeTransportSequenceNumber unpacks a 16-bit TSN.
func DecodeTransportSequenceNumber(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return bitio.Uint16(b)
}

// PlayoutDelay is the (min, max) pair in 10 ms units, capped at 40.95s
// (the 12-bit field maximum, 4095 * 10ms).
type PlayoutDelay struct {
	MinMs, MaxMs uint16
}

const playoutDelayUnitMs = 10
const playoutDelayMax = 4095 * playoutDelayUnitMs

// EncodePlayoutDelay packs two 12-bit 10ms-unit values into 3 bytes.
func EncodePlayoutDelay(d PlayoutDelay) []byte {
	min := clampDelay(d.MinMs) / playoutDelayUnitMs
	max := clampDelay(d.MaxMs) / playoutDelayUnitMs
	b := make([]byte, 3)
	b[0] = byte(min >> 4)
	b[1] = byte(min<<4) | byte(max>>8)
	b[2] = byte(max)
	return b
}

func clampDelay(ms uint16) uint16 {
	if ms > playoutDelayMax {
		return playoutDelayMax
	}
	return ms
}

// DecodePlayoutDelay unpacks the 3-byte playout-delay-limits extension.
func DecodePlayoutDelay(b []byte) PlayoutDelay {
	if len(b) < 3 {
		return PlayoutDelay{}
	}
	min := (uint16(b[0]) << 4) | (uint16(b[1]) >> 4)
	max := (uint16(b[1]&0x0F) << 8) | uint16(b[2])
	return PlayoutDelay{MinMs: min * playoutDelayUnitMs, MaxMs: max * playoutDelayUnitMs}
}

// EncodeAbsCaptureTime packs a capture NTP timestamp into the 56-bit form
// (7 bytes, the top 56 bits of the 64-bit NTP value), optionally followed
// by a 56-bit signed clock offset for the 112-bit form, per spec.md
// §4.1's abs-capture-time field width.
func EncodeAbsCaptureTime(ntpCaptureTime uint64, clockOffset int64, includeOffset bool) []byte {
	var tmp [8]byte
	bitio.PutUint64(tmp[:], ntpCaptureTime)
	if !includeOffset {
		b := make([]byte, 7)
		copy(b, tmp[:7])
		return b
	}
	b := make([]byte, 14)
	copy(b[:7], tmp[:7])
	var off [8]byte
	bitio.PutUint64(off[:], uint64(clockOffset))
	copy(b[7:14], off[:7])
	return b
}

// DecodeAbsCaptureTime unpacks a 56- or 112-bit abs-capture-time
// extension, returning the NTP capture time and, if present, the clock
// offset.
func DecodeAbsCaptureTime(b []byte) (ntpCaptureTime uint64, clockOffset int64, hasOffset bool) {
	if len(b) < 7 {
		return 0, 0, false
	}
	var tmp [8]byte
	copy(tmp[:7], b[:7])
	ntpCaptureTime = bitio.Uint64(tmp[:])
	if len(b) < 14 {
		return ntpCaptureTime, 0, false
	}
	var off [8]byte
	copy(off[:7], b[7:14])
	return ntpCaptureTime, int64(bitio.Uint64(off[:])), true
}
