// Package bytebuffer implements the reference-counted, copy-on-write byte
// container spec.md §2/§3 requires for every network-visible packet: it
// lets PacketHistory hand a clone to egress while retaining the
// authoritative copy (§5) without an extra allocation on the common path.
//
// Not present in the teacher, which passes raw []byte around; grounded on
// the pooled-clone pattern pion/webrtc's track_local_static.go uses when
// fanning a single encoded frame out to multiple subscribers (pack copy at
// other_examples/15ec8445_pion-webrtc__track_local_static.go.go).
package bytebuffer

import "sync/atomic"

// Buffer is a reference-counted byte container supporting prefix/suffix
// growth. The zero value is not usable; construct with New or Wrap.
type Buffer struct {
	data []byte
	// refs counts outstanding references, including this one. Shared
	// across every clone of the same underlying array.
	refs *int32
}

// New allocates a Buffer with the given length, zeroed, and room for
// growth up to capacity headroom+length+tailroom.
func New(length, headroom, tailroom int) *Buffer {
	buf := make([]byte, headroom, headroom+length+tailroom)
	buf = buf[:headroom+length][headroom:]
	refs := int32(1)
	return &Buffer{data: buf, refs: &refs}
}

// Wrap adopts an existing slice as a single-owner Buffer without copying.
func Wrap(b []byte) *Buffer {
	refs := int32(1)
	return &Buffer{data: b, refs: &refs}
}

// Bytes returns the current contents. The returned slice must not be
// retained past the Buffer's lifetime if the Buffer is later mutated via
// AppendSuffix, PrependPrefix or MutableBytes, since those may reallocate.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of valid bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Clone returns a new Buffer sharing this one's backing array (copy-on-
// write): readers may use it freely; the first mutating call on either
// Buffer copies first. Increments the shared refcount.
func (b *Buffer) Clone() *Buffer {
	atomic.AddInt32(b.refs, 1)
	return &Buffer{data: b.data, refs: b.refs}
}

// Retain increments the refcount and returns the receiver, for call sites
// that want to keep a reference without taking a distinct view.
func (b *Buffer) Retain() *Buffer {
	atomic.AddInt32(b.refs, 1)
	return b
}

// Release decrements the refcount. Callers must not use the Buffer after
// the call that brings the count to zero.
func (b *Buffer) Release() {
	atomic.AddInt32(b.refs, -1)
}

// shared reports whether another reference is outstanding.
func (b *Buffer) shared() bool {
	return atomic.LoadInt32(b.refs) > 1
}

// detach ensures the Buffer owns a private copy of its backing array,
// copying only when shared() — the copy-on-write trigger.
func (b *Buffer) detach() {
	if !b.shared() {
		return
	}
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	b.data = cp
	refs := int32(1)
	b.refs = &refs
}

// AppendSuffix grows the buffer by appending p, detaching first if shared.
func (b *Buffer) AppendSuffix(p []byte) {
	b.detach()
	b.data = append(b.data, p...)
}

// PrependPrefix grows the buffer by prepending p, detaching first if
// shared. Used when an RTX envelope needs to insert bytes before an
// existing payload view.
func (b *Buffer) PrependPrefix(p []byte) {
	b.detach()
	out := make([]byte, 0, len(p)+len(b.data))
	out = append(out, p...)
	out = append(out, b.data...)
	b.data = out
}

// MutableBytes returns a mutable view into the buffer, detaching first if
// the underlying array is shared with another reference.
func (b *Buffer) MutableBytes() []byte {
	b.detach()
	return b.data
}

// Slice returns a read-only, non-copying view of b.data[lo:hi] sharing
// the same backing array and refcount as b (a "fragment-compatible view"
// per spec.md §4.1).
func (b *Buffer) Slice(lo, hi int) *Buffer {
	atomic.AddInt32(b.refs, 1)
	return &Buffer{data: b.data[lo:hi], refs: b.refs}
}
