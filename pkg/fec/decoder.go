package fec

import (
	"github.com/arzzra/rtcore/pkg/bitio"
	"github.com/arzzra/rtcore/pkg/rtppkt"
)

// maxMediaPacketsGap is the wraparound distance past which a stored FEC
// packet older than every recovered packet is considered stale and
// discarded (spec.md §4.4: "older than all recovered packets by more
// than 0x3FFF").
const maxMediaPacketsGap = 0x3FFF

// parsedFecHeader is the decoded ULP FEC level-0/level-1 header.
type parsedFecHeader struct {
	lBit              bool
	pxccRecovery      byte
	mPTRecovery       byte
	seqBase           uint16
	tsRecovery        uint32
	lenRecovery       uint16
	protectionLength  uint16
	mask              []byte
	payload           []byte
}

func parseFecHeader(data []byte) (parsedFecHeader, error) {
	if len(data) < fecLevel0HeaderSize+2 {
		return parsedFecHeader{}, ErrMalformedHeader
	}
	h := parsedFecHeader{
		lBit:         data[0]&0x40 != 0,
		pxccRecovery: data[0] & 0x3F,
		mPTRecovery:  data[1],
		seqBase:      bitio.Uint16(data[2:4]),
		tsRecovery:   bitio.Uint32(data[4:8]),
		lenRecovery:  bitio.Uint16(data[8:10]),
	}
	maskSize := maskSizeLBitClear
	if h.lBit {
		maskSize = maskSizeLBitSet
	}
	headerSize := fecLevel0HeaderSize + 2 + maskSize
	if len(data) < headerSize {
		return parsedFecHeader{}, ErrMalformedHeader
	}
	h.protectionLength = bitio.Uint16(data[fecLevel0HeaderSize : fecLevel0HeaderSize+2])
	h.mask = append([]byte(nil), data[fecLevel0HeaderSize+2:headerSize]...)
	h.payload = data[headerSize:]
	return h, nil
}

// protectedSeqs derives the list of sequence numbers the mask protects,
// relative to seqBase.
func (h parsedFecHeader) protectedSeqs() []uint16 {
	var seqs []uint16
	for bit := 0; bit < len(h.mask)*8; bit++ {
		if h.mask[bit/8]&(1<<uint(7-bit%8)) != 0 {
			seqs = append(seqs, h.seqBase+uint16(bit))
		}
	}
	return seqs
}

// fecRecord is one received FEC packet awaiting recovery.
type fecRecord struct {
	header   parsedFecHeader
	media    map[uint16]*rtppkt.Packet // protected seq -> recovered/received packet, nil if still missing
}

// Decoder maintains recovered media and received FEC packets and
// attempts single-packet recovery on every arrival (spec.md §4.4).
type Decoder struct {
	maxMediaPackets int
	recovered       map[uint16]*rtppkt.Packet
	fecPackets      map[uint16]*fecRecord
	lastRecovered   uint16
	haveLast        bool
}

// NewDecoder creates a Decoder retaining at most maxMediaPackets
// recovered media packets.
func NewDecoder(maxMediaPackets int) *Decoder {
	return &Decoder{
		maxMediaPackets: maxMediaPackets,
		recovered:       make(map[uint16]*rtppkt.Packet),
		fecPackets:      make(map[uint16]*fecRecord),
	}
}

// OnMediaPacket registers an arrived (non-recovered) media packet and
// binds it into any stored FEC packet whose mask covers its sequence
// number.
func (d *Decoder) OnMediaPacket(seq uint16, pkt *rtppkt.Packet) {
	d.resetIfGapExceeded(seq)
	d.recovered[seq] = pkt
	d.lastRecovered = seq
	d.haveLast = true
	d.evictOldMedia()

	for _, rec := range d.fecPackets {
		if _, tracked := rec.media[seq]; tracked {
			rec.media[seq] = pkt
		}
	}
}

// OnFecPacket registers an arrived FEC packet, binding any
// already-recovered media packets it protects, and returns whatever
// media packets could be recovered as a result (normally at most one).
func (d *Decoder) OnFecPacket(fecSeq uint16, data []byte) ([]*rtppkt.Packet, error) {
	h, err := parseFecHeader(data)
	if err != nil {
		return nil, err
	}
	rec := &fecRecord{header: h, media: make(map[uint16]*rtppkt.Packet)}
	for _, seq := range h.protectedSeqs() {
		rec.media[seq] = d.recovered[seq]
	}
	d.fecPackets[fecSeq] = rec
	return d.attemptRecovery()
}

// attemptRecovery scans every stored FEC packet: if exactly one
// protected packet is still missing, XORs it back into existence.
// FEC packets covering zero missing packets are cleaned up; FEC packets
// too stale relative to the most recently recovered packet are
// discarded per spec.md §4.4.
func (d *Decoder) attemptRecovery() ([]*rtppkt.Packet, error) {
	var out []*rtppkt.Packet
	for fecSeq, rec := range d.fecPackets {
		if d.haveLast && seqGapExceeds(d.lastRecovered, fecSeq, maxMediaPacketsGap) {
			delete(d.fecPackets, fecSeq)
			continue
		}
		missing := missingSeqs(rec.media)
		if len(missing) == 0 {
			delete(d.fecPackets, fecSeq)
			continue
		}
		if len(missing) != 1 {
			continue
		}
		pkt, err := recoverPacket(rec, missing[0])
		if err != nil {
			return out, err
		}
		d.recovered[missing[0]] = pkt
		rec.media[missing[0]] = pkt
		out = append(out, pkt)
		delete(d.fecPackets, fecSeq)
	}
	return out, nil
}

func missingSeqs(media map[uint16]*rtppkt.Packet) []uint16 {
	var missing []uint16
	for seq, pkt := range media {
		if pkt == nil {
			missing = append(missing, seq)
		}
	}
	return missing
}

// recoverPacket XORs the FEC packet with every known protected packet's
// wire image to rebuild the missing packet's bytes, then reconstructs
// the full wire image — version 2, recovered flag byte (P, X, CC),
// marker/payload-type byte, the missing sequence number, recovered
// timestamp, the protected media SSRC, and the recovered body trimmed
// to the length-recovery value — and parses it back into a Packet, so
// CSRCs, header extensions, payload, and padding all come back exactly
// as sent (spec.md §4.4).
func recoverPacket(rec *fecRecord, missingSeq uint16) (*rtppkt.Packet, error) {
	h := rec.header
	flags := h.pxccRecovery
	mPT := h.mPTRecovery
	ts := h.tsRecovery
	lenRecovery := h.lenRecovery
	body := append([]byte(nil), h.payload...)

	var mediaSSRC uint32
	for seq, pkt := range rec.media {
		if seq == missingSeq || pkt == nil {
			continue
		}
		mediaSSRC = pkt.SSRC
		wire, err := pkt.Marshal()
		if err != nil {
			return nil, err
		}
		flags ^= wire[0] & 0x3F
		mPT ^= wire[1]
		ts ^= pkt.Timestamp
		lenRecovery ^= uint16(len(wire) - fixedRTPHeaderSize)
		xorBytes(body[:min(len(body), len(wire)-fixedRTPHeaderSize)], wire[fixedRTPHeaderSize:])
	}

	if int(lenRecovery) > len(body) {
		return nil, ErrMalformedHeader
	}
	wire := make([]byte, fixedRTPHeaderSize+int(lenRecovery))
	wire[0] = 2<<6 | flags&0x3F
	wire[1] = mPT
	bitio.PutUint16(wire[2:4], missingSeq)
	bitio.PutUint32(wire[4:8], ts)
	bitio.PutUint32(wire[8:12], mediaSSRC)
	copy(wire[fixedRTPHeaderSize:], body[:lenRecovery])
	return rtppkt.Parse(wire)
}

func seqGapExceeds(a, b uint16, limit uint16) bool {
	d := a - b
	if d > 0x8000 {
		d = b - a
	}
	return d > limit
}

func (d *Decoder) resetIfGapExceeded(seq uint16) {
	if !d.haveLast {
		return
	}
	if seqGapExceeds(d.lastRecovered, seq, uint16(d.maxMediaPackets)) {
		d.recovered = make(map[uint16]*rtppkt.Packet)
		d.fecPackets = make(map[uint16]*fecRecord)
	}
}

func (d *Decoder) evictOldMedia() {
	if len(d.recovered) <= d.maxMediaPackets {
		return
	}
	var oldest uint16
	found := false
	for seq := range d.recovered {
		if !found || int16(seq-d.lastRecovered) < int16(oldest-d.lastRecovered) {
			oldest = seq
			found = true
		}
	}
	if found {
		delete(d.recovered, oldest)
	}
}
