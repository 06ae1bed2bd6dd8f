package rtcp

import "github.com/arzzra/rtcore/pkg/bitio"

const nackItemSize = 4

// NackItem is one {first-PID, bitmap-16} entry: first-PID plus up to 16
// additional lost packets at first-PID+1..+16 via the bitmap
// (spec.md §4.2).
type NackItem struct {
	PID       uint16
	BitmapLSB uint16
}

// Nack is RFC 4585's generic NACK (RTPFB, FMT=1). No teacher equivalent;
// grounded on HMasataka-ion-sfu/pkg/buffer/nack.go's sorted-queue →
// NackPair compression for the bitmap packing, re-expressed against the
// shared CommonFeedback/Packet contract here.
type Nack struct {
	CommonFeedback
	Items []NackItem
}

func (n *Nack) Header() CommonHeader {
	return CommonHeader{Version: 2, Count: FmtNack, Type: TypeRTPFB, Length: uint16(n.PacketSize()/4 - 1)}
}

func (n *Nack) PacketSize() int {
	return 4 + 8 + len(n.Items)*nackItemSize
}

func (n *Nack) Marshal() ([]byte, error) {
	buf := make([]byte, n.PacketSize())
	writeCommonHeader(buf, FmtNack, TypeRTPFB, uint16(len(buf)/4-1))
	n.CommonFeedback.marshalTo(buf[4:12])
	off := 12
	for _, it := range n.Items {
		bitio.PutUint16(buf[off:off+2], it.PID)
		bitio.PutUint16(buf[off+2:off+4], it.BitmapLSB)
		off += nackItemSize
	}
	return buf, nil
}

// ParseNack parses a generic NACK packet.
func ParseNack(h CommonHeader, data []byte) (*Nack, error) {
	if h.Type != TypeRTPFB || h.Count != FmtNack {
		return nil, ErrWrongType
	}
	cf, err := parseCommonFeedback(data[4:])
	if err != nil {
		return nil, err
	}
	n := &Nack{CommonFeedback: cf}
	off := 12
	for off+nackItemSize <= len(data) {
		n.Items = append(n.Items, NackItem{
			PID:       bitio.Uint16(data[off : off+2]),
			BitmapLSB: bitio.Uint16(data[off+2 : off+4]),
		})
		off += nackItemSize
	}
	return n, nil
}

// ExpandLostSequenceNumbers returns every sequence number a NackItem
// represents: PID itself, plus PID+1+i for each set bit i of BitmapLSB.
func (it NackItem) ExpandLostSequenceNumbers() []uint16 {
	out := []uint16{it.PID}
	for i := 0; i < 16; i++ {
		if it.BitmapLSB&(1<<uint(i)) != 0 {
			out = append(out, it.PID+1+uint16(i))
		}
	}
	return out
}

// NackFromSequenceNumbers compresses a sorted (ascending, no duplicates)
// list of lost sequence numbers into the minimal NackItem list, starting
// a new item whenever a sequence number falls outside the current base's
// +16 window — the run-length packing used by
// HMasataka-ion-sfu/pkg/buffer/nack.go's pairs().
func NackFromSequenceNumbers(seqs []uint16) []NackItem {
	var items []NackItem
	var cur *NackItem
	for _, sn := range seqs {
		if cur != nil && sn > cur.PID && uint32(sn)-uint32(cur.PID) <= 16 {
			cur.BitmapLSB |= 1 << uint(sn-cur.PID-1)
			continue
		}
		items = append(items, NackItem{PID: sn})
		cur = &items[len(items)-1]
	}
	return items
}

// maxNackItemsPerPacket bounds a single NACK RTCP packet to a
// conservative UDP-safe size; BuildNackPackets fragments beyond this via
// the ready callback (spec.md §4.2: "if the NACK list overflows a single
// packet it emits the first packet via the on-ready callback and
// continues with a new RTCP header").
const maxNackItemsPerPacket = 200

// BuildNackPackets packs items into one or more Nack packets of at most
// maxNackItemsPerPacket items each, invoking ready with every packet's
// bytes, the last one included.
func BuildNackPackets(cf CommonFeedback, items []NackItem, ready ReadyFunc) error {
	for len(items) > 0 {
		n := len(items)
		if n > maxNackItemsPerPacket {
			n = maxNackItemsPerPacket
		}
		pkt := &Nack{CommonFeedback: cf, Items: items[:n]}
		data, err := pkt.Marshal()
		if err != nil {
			return err
		}
		if err := ready(data); err != nil {
			return err
		}
		items = items[n:]
	}
	return nil
}
