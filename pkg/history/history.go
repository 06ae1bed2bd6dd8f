// Package history implements PacketHistory (spec.md §4.3): a bounded
// store of recently sent RTP packets keyed by sequence number, used to
// recover original bytes for NACK-triggered retransmission. Entries are
// held as refcounted bytebuffer.Buffers so a resend hands a
// copy-on-write clone to the RTX builder while the store keeps the
// authoritative copy (spec.md §3's ownership graph).
//
// Grounded on the teacher's retransmit bookkeeping in
// pkg/rtp/rtcp_session.go (RTT tracking) generalized to a standalone
// store, using gammazero/deque for the eviction order — the same
// dependency ion-sfu's pkg/buffer/bucket.go reaches for to back a
// ring of recently sent packets.
package history

import (
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/arzzra/rtcore/pkg/bytebuffer"
)

// entry is one stored packet plus its retransmission bookkeeping.
type entry struct {
	seq       uint16
	packet    *bytebuffer.Buffer
	sendTime  time.Time
	pending   bool
	lastSend  time.Time
	retransmitCount int
}

// State is the snapshot GetState returns for a sequence number.
type State struct {
	Size    int
	Pending bool
}

// BuildFunc wraps a stored packet into the buffer that should actually
// go out on the wire (e.g. an RTX envelope with a new sequence number
// and payload-type mapping). original is a copy-on-write clone of the
// retained entry; the History releases it after build returns.
type BuildFunc func(original *bytebuffer.Buffer) []byte

// History is PacketHistory: capacity-bounded, RTT-gated retransmission
// store.
type History struct {
	mu       sync.Mutex
	capacity int
	minRetain time.Duration
	order    deque.Deque[uint16]
	entries  map[uint16]*entry
}

// New creates a History retaining at most capacity packets.
func New(capacity int) *History {
	return &History{
		capacity:  capacity,
		minRetain: 100 * time.Millisecond,
		entries:   make(map[uint16]*entry, capacity),
	}
}

// SetRtt recomputes the minimum-retain window a sequence number must
// sit pending before it becomes eligible for a repeat resend — gated at
// one RTT per spec.md §4.3.
func (h *History) SetRtt(rtt time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rtt <= 0 {
		return
	}
	h.minRetain = rtt
}

// Put inserts or overwrites the entry for seq. If over capacity, evicts
// the oldest entry by send time, unless it is within minRetain of now
// (guards against evicting something that might still be NACKed).
func (h *History) Put(seq uint16, packet *bytebuffer.Buffer, sendTime time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.entries[seq]; ok {
		old.packet.Release()
		old.packet = packet.Retain()
		old.sendTime = sendTime
		old.pending = false
		return
	}

	h.entries[seq] = &entry{seq: seq, packet: packet.Retain(), sendTime: sendTime}
	h.order.PushBack(seq)

	for h.order.Len() > h.capacity {
		oldest := h.order.Front()
		if e, ok := h.entries[oldest]; ok && sendTime.Sub(e.sendTime) < h.minRetain {
			break
		}
		h.order.PopFront()
		if e, ok := h.entries[oldest]; ok {
			e.packet.Release()
		}
		delete(h.entries, oldest)
	}
}

// GetState returns the size and pending flag for seq, or ok=false if
// not retained.
func (h *History) GetState(seq uint16) (State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[seq]
	if !ok {
		return State{}, false
	}
	return State{Size: e.packet.Len(), Pending: e.pending}, true
}

// GetAndMarkPending returns a fresh buffer built from the stored
// original via build, and marks the entry pending to suppress duplicate
// resends until the RTT window elapses or Put clears it. Returns
// ok=false if seq isn't retained, or if already pending within the RTT
// window.
func (h *History) GetAndMarkPending(seq uint16, now time.Time, build BuildFunc) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[seq]
	if !ok {
		return nil, false
	}
	if e.pending && now.Sub(e.lastSend) < h.minRetain {
		return nil, false
	}
	e.pending = true
	e.lastSend = now
	e.retransmitCount++
	clone := e.packet.Clone()
	defer clone.Release()
	return build(clone), true
}

// Len reports the number of currently retained entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
