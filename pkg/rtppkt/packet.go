// Package rtppkt implements the in-memory RTP packet model of spec.md
// §3/§4.1: bit-exact parsing and serialization with one-byte/two-byte
// header extensions, CSRCs, and padding.
//
// The teacher has no RTP codec of its own — it imports github.com/pion/rtp
// for the wire type (pkg/rtp/*_session.go). Since this component is one
// of THE CORE deliverables spec.md §4.1 asks us to hand-build, it is
// written here in the teacher's own RTCP-codec idiom (explicit
// Marshal/Unmarshal over encoding/binary, pkg/rtp/rtcp.go) rather than by
// wrapping pion/rtp. The wire layout is grounded on the reference copies
// at other_examples/7dc8c4f4_pion-webrtc__pkg-rtp-packet.go.go and
// other_examples/1e1f65ae_ausocean-av__protocol-rtp-rtp.go.go.
package rtppkt

import (
	"errors"
	"fmt"

	"github.com/arzzra/rtcore/pkg/bitio"
)

const (
	fixedHeaderSize    = 12
	oneByteProfile     = 0xBEDE
	twoByteProfileMask = 0xFFF0
	twoByteProfileBase = 0x1000
	maxCSRC            = 15
)

// Errors returned by Parse and the mutators. Matches the teacher's
// sentinel-error-beside-the-raiser idiom (pkg/rtp/transport_common.go).
var (
	ErrShortBuffer       = errors.New("rtppkt: buffer too short")
	ErrInvalidVersion    = errors.New("rtppkt: invalid RTP version")
	ErrInvalidPadding    = errors.New("rtppkt: padding bit set but padding length is zero")
	ErrExtensionOverflow = errors.New("rtppkt: header extension length overflows buffer")
	ErrUnknownProfile    = errors.New("rtppkt: unknown extension profile id")
	ErrTooManyCSRC       = errors.New("rtppkt: more than 15 CSRCs")
	ErrMutationOrder     = errors.New("rtppkt: field set after payload/padding/CSRCs were finalized")
)

// extEntry preserves insertion order for deterministic re-serialization.
type extEntry struct {
	id    uint8
	value []byte
}

// Packet is an in-memory RTP packet. The zero value is an empty packet
// ready to be built via the setter methods below.
type Packet struct {
	Version        uint8
	Padding        bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRCs          []uint32

	// twoByte is true once any extension has been promoted to two-byte
	// form (id or value length exceeds the one-byte limits), or the
	// caller explicitly requested two-byte form via UseTwoByteExtensions.
	twoByte bool
	// allowMixed mirrors extmap_allow_mixed (spec.md §6): when false,
	// promotion rewrites the whole extension area to two-byte form
	// instead of mixing profiles within one packet.
	allowMixed bool
	exts       []extEntry

	payload     []byte
	paddingSize uint8

	// finalized marks that payload/padding/CSRCs have been set; further
	// CSRC mutation after this point is rejected (spec.md §3 invariant:
	// "CSRCs added only before extensions/payload/padding").
	finalized bool
}

// New returns an empty, version-2 Packet.
func New() *Packet {
	return &Packet{Version: 2}
}

// SetAllowMixedExtensions toggles extmap-allow-mixed behavior (spec.md
// §6): when true, promotion to two-byte form may coexist with prior
// one-byte entries already written; when false (default) promotion
// rewrites the entire extension area.
func (p *Packet) SetAllowMixedExtensions(allow bool) {
	p.allowMixed = allow
}

// AddCSRC appends a contributing source identifier. Rejected once the
// packet has been finalized by SetPayload/SetPadding, or past 15 CSRCs,
// matching the RFC 3550 CC field width and spec.md §3's ordering
// invariant.
func (p *Packet) AddCSRC(csrc uint32) error {
	if p.finalized {
		return ErrMutationOrder
	}
	if len(p.CSRCs) >= maxCSRC {
		return ErrTooManyCSRC
	}
	p.CSRCs = append(p.CSRCs, csrc)
	return nil
}

// AllocateExtension reserves size bytes for the header extension
// registered under local id, returning a mutable view the caller fills
// in place. One-byte form supports ids 1..14 and sizes 1..16; anything
// outside that range promotes the packet to two-byte form (ids 1..255,
// sizes 0..255), lazily, per spec.md §4.1.
func (p *Packet) AllocateExtension(id uint8, size int) ([]byte, error) {
	if size < 0 || size > 255 {
		return nil, fmt.Errorf("rtppkt: extension size %d out of range", size)
	}
	if !p.twoByte && (id == 0 || id > 14 || size == 0 || size > 16) {
		p.promoteToTwoByte()
	}
	value := make([]byte, size)
	for i, e := range p.exts {
		if e.id == id {
			p.exts[i].value = value
			return value, nil
		}
	}
	p.exts = append(p.exts, extEntry{id: id, value: value})
	return value, nil
}

// promoteToTwoByte rewrites the extension area to two-byte form. Because
// extEntry stores raw id/value pairs independent of wire form, no byte
// rewriting is needed until Marshal — only the flag changes. When mixed
// mode is disallowed this is the only promotion path; allowed-mixed mode
// would otherwise let the area contain a blend, which rtcore represents
// identically (the logical entries are form-agnostic) and resolves at
// Marshal time based on the final twoByte flag.
func (p *Packet) promoteToTwoByte() {
	p.twoByte = true
}

// Extension returns the raw bytes registered under id, if present.
func (p *Packet) Extension(id uint8) ([]byte, bool) {
	for _, e := range p.exts {
		if e.id == id {
			return e.value, true
		}
	}
	return nil, false
}

// RemoveExtension deletes the entry registered under id, if present.
func (p *Packet) RemoveExtension(id uint8) {
	for i, e := range p.exts {
		if e.id == id {
			p.exts = append(p.exts[:i], p.exts[i+1:]...)
			return
		}
	}
}

// SetPayload sets the packet payload. Rejected after SetPadding has been
// called with a mismatched state is not tracked; this simply finalizes
// CSRC mutation per spec.md §4.1.
func (p *Packet) SetPayload(payload []byte) {
	p.payload = payload
	p.finalized = true
}

// Payload returns the current payload view without copying.
func (p *Packet) Payload() []byte { return p.payload }

// SetPadding sets the trailing padding byte count (0-255).
func (p *Packet) SetPadding(n uint8) {
	p.paddingSize = n
	p.Padding = n > 0
	p.finalized = true
}

// PaddingSize returns the current padding byte count.
func (p *Packet) PaddingSize() uint8 { return p.paddingSize }

// headerExtensionBytes returns the serialized extension area (profile id
// + length word + entries + zero-padding to a 32-bit boundary), or nil if
// there are no extensions.
func (p *Packet) headerExtensionBytes() []byte {
	if len(p.exts) == 0 {
		return nil
	}
	var body []byte
	if p.twoByte {
		for _, e := range p.exts {
			body = append(body, e.id, byte(len(e.value)))
			body = append(body, e.value...)
		}
	} else {
		for _, e := range p.exts {
			// one-byte form: high nibble id (1-14), low nibble len-1 (0-15)
			l := len(e.value)
			b0 := (e.id << 4) | byte(l-1)
			body = append(body, b0)
			body = append(body, e.value...)
		}
	}
	for len(body)%4 != 0 {
		body = append(body, 0)
	}

	profile := uint16(oneByteProfile)
	if p.twoByte {
		profile = twoByteProfileBase
	}
	out := make([]byte, 4+len(body))
	bitio.PutUint16(out[0:2], profile)
	bitio.PutUint16(out[2:4], uint16(len(body)/4))
	copy(out[4:], body)
	return out
}

// HeaderSize returns the size, in bytes, of the fixed header + CSRC list
// + extension area (not including payload/padding).
func (p *Packet) HeaderSize() int {
	size := fixedHeaderSize + 4*len(p.CSRCs)
	if ext := p.headerExtensionBytes(); ext != nil {
		size += len(ext)
	}
	return size
}

// MarshalSize returns the total wire size of the packet.
func (p *Packet) MarshalSize() int {
	size := p.HeaderSize() + len(p.payload)
	if p.Padding {
		size += int(p.paddingSize)
	}
	return size
}

// Marshal serializes the packet to a freshly allocated buffer.
func (p *Packet) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	n, err := p.MarshalTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// MarshalTo serializes the packet into buf, which must be at least
// MarshalSize() bytes, and returns the number of bytes written.
func (p *Packet) MarshalTo(buf []byte) (int, error) {
	size := p.MarshalSize()
	if len(buf) < size {
		return 0, ErrShortBuffer
	}

	ext := p.headerExtensionBytes()
	hasExt := ext != nil

	buf[0] = (2 << 6) | boolBit(p.Padding, 5) | boolBit(hasExt, 4) | byte(len(p.CSRCs))
	buf[1] = boolBit(p.Marker, 7) | (p.PayloadType & 0x7F)
	bitio.PutUint16(buf[2:4], p.SequenceNumber)
	bitio.PutUint32(buf[4:8], p.Timestamp)
	bitio.PutUint32(buf[8:12], p.SSRC)

	off := fixedHeaderSize
	for _, c := range p.CSRCs {
		bitio.PutUint32(buf[off:off+4], c)
		off += 4
	}
	if hasExt {
		copy(buf[off:], ext)
		off += len(ext)
	}
	off += copy(buf[off:], p.payload)
	if p.Padding {
		for i := 0; i < int(p.paddingSize)-1; i++ {
			buf[off] = 0
			off++
		}
		buf[off] = p.paddingSize
		off++
	}
	return off, nil
}

func boolBit(b bool, shift uint) byte {
	if b {
		return 1 << shift
	}
	return 0
}

// Parse decodes data into a new Packet. Fails on truncation, invalid
// version, zero-sized padding with the padding bit set, extension length
// overflow, or an unrecognized extension profile id, per spec.md §4.1.
func Parse(data []byte) (*Packet, error) {
	if len(data) < fixedHeaderSize {
		return nil, ErrShortBuffer
	}
	p := &Packet{}
	p.Version = data[0] >> 6
	if p.Version != 2 {
		return nil, ErrInvalidVersion
	}
	padding := data[0]&0x20 != 0
	hasExt := data[0]&0x10 != 0
	cc := int(data[0] & 0x0F)

	p.Marker = data[1]&0x80 != 0
	p.PayloadType = data[1] & 0x7F
	p.SequenceNumber = bitio.Uint16(data[2:4])
	p.Timestamp = bitio.Uint32(data[4:8])
	p.SSRC = bitio.Uint32(data[8:12])

	off := fixedHeaderSize
	need := off + 4*cc
	if len(data) < need {
		return nil, ErrShortBuffer
	}
	p.CSRCs = make([]uint32, cc)
	for i := 0; i < cc; i++ {
		p.CSRCs[i] = bitio.Uint32(data[off : off+4])
		off += 4
	}

	if hasExt {
		if len(data) < off+4 {
			return nil, ErrShortBuffer
		}
		profile := bitio.Uint16(data[off : off+2])
		lengthWords := int(bitio.Uint16(data[off+2 : off+4]))
		off += 4
		bodyLen := lengthWords * 4
		if off+bodyLen > len(data) {
			return nil, ErrExtensionOverflow
		}
		body := data[off : off+bodyLen]
		off += bodyLen

		switch {
		case profile == oneByteProfile:
			p.twoByte = false
			if err := parseOneByteExtensions(p, body); err != nil {
				return nil, err
			}
		case profile&twoByteProfileMask == twoByteProfileBase:
			p.twoByte = true
			if err := parseTwoByteExtensions(p, body); err != nil {
				return nil, err
			}
		default:
			return nil, ErrUnknownProfile
		}
	}

	payloadEnd := len(data)
	if padding {
		if len(data) <= off {
			return nil, ErrInvalidPadding
		}
		p.paddingSize = data[len(data)-1]
		if p.paddingSize == 0 {
			return nil, ErrInvalidPadding
		}
		payloadEnd = len(data) - int(p.paddingSize)
		if payloadEnd < off {
			return nil, ErrShortBuffer
		}
		p.Padding = true
	}
	p.payload = data[off:payloadEnd]
	p.finalized = true
	return p, nil
}

func parseOneByteExtensions(p *Packet, body []byte) error {
	i := 0
	for i < len(body) {
		b0 := body[i]
		if b0 == 0 { // padding byte inside the extension area
			i++
			continue
		}
		id := b0 >> 4
		l := int(b0&0x0F) + 1
		i++
		if id == 15 {
			// id 15 is reserved to mean "stop parsing" per RFC 8285.
			break
		}
		if i+l > len(body) {
			return ErrExtensionOverflow
		}
		val := make([]byte, l)
		copy(val, body[i:i+l])
		p.exts = append(p.exts, extEntry{id: id, value: val})
		i += l
	}
	return nil
}

func parseTwoByteExtensions(p *Packet, body []byte) error {
	i := 0
	for i < len(body) {
		id := body[i]
		if id == 0 {
			i++
			continue
		}
		if i+1 >= len(body) {
			return ErrExtensionOverflow
		}
		l := int(body[i+1])
		i += 2
		if i+l > len(body) {
			return ErrExtensionOverflow
		}
		val := make([]byte, l)
		copy(val, body[i:i+l])
		p.exts = append(p.exts, extEntry{id: id, value: val})
		i += l
	}
	return nil
}

// Clone returns a deep copy of the packet, suitable for PacketHistory's
// retained authoritative copy (spec.md §3).
func (p *Packet) Clone() *Packet {
	cp := *p
	cp.CSRCs = append([]uint32(nil), p.CSRCs...)
	cp.exts = make([]extEntry, len(p.exts))
	for i, e := range p.exts {
		cp.exts[i] = extEntry{id: e.id, value: append([]byte(nil), e.value...)}
	}
	cp.payload = append([]byte(nil), p.payload...)
	return &cp
}

// Equal reports field-by-field equality, used by the round-trip-parsing
// property test (spec.md §8 property 1).
func (p *Packet) Equal(o *Packet) bool {
	if p.Version != o.Version || p.Padding != o.Padding || p.Marker != o.Marker ||
		p.PayloadType != o.PayloadType || p.SequenceNumber != o.SequenceNumber ||
		p.Timestamp != o.Timestamp || p.SSRC != o.SSRC || p.paddingSize != o.paddingSize {
		return false
	}
	if len(p.CSRCs) != len(o.CSRCs) {
		return false
	}
	for i := range p.CSRCs {
		if p.CSRCs[i] != o.CSRCs[i] {
			return false
		}
	}
	if len(p.payload) != len(o.payload) {
		return false
	}
	for i := range p.payload {
		if p.payload[i] != o.payload[i] {
			return false
		}
	}
	if len(p.exts) != len(o.exts) {
		return false
	}
	for i := range p.exts {
		if p.exts[i].id != o.exts[i].id || len(p.exts[i].value) != len(o.exts[i].value) {
			return false
		}
		for j := range p.exts[i].value {
			if p.exts[i].value[j] != o.exts[i].value[j] {
				return false
			}
		}
	}
	return true
}
