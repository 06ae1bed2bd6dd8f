// Package sequencer assigns media and RTX sequence numbers and marks
// keyframe boundaries (spec.md §2/§4.5's Sequencer component).
//
// Grounded on the teacher's sequence-number bookkeeping embedded in
// pkg/rtp/rtp_session.go, pulled out into a standalone generator and
// seeded via github.com/pion/randutil the way the teacher's DTLS
// transport already depends on it for its own randomness (pulled from
// indirect to direct, per SPEC_FULL.md §11).
package sequencer

import (
	"sync"

	"github.com/pion/randutil"
)

// Sequencer hands out monotonically increasing (mod 2^16) sequence
// numbers for a media stream and, independently, for its RTX stream,
// and tracks whether the most recently assigned media sequence number
// started a new keyframe.
type Sequencer struct {
	mu sync.Mutex

	mediaSeq  uint16
	rtxSeq    uint16
	lastKeyframeSeq uint16
	sawKeyframe     bool
}

// New creates a Sequencer with both counters seeded from a random value
// in the low 15-bit range (spec.md §4.5: "initializes with random seed
// in the low-15-bit range" to leave headroom before wraparound during
// early tests).
func New() (*Sequencer, error) {
	seed := randutil.NewMathRandomGenerator().Uint32()
	start := uint16(seed & 0x7FFF)
	return &Sequencer{mediaSeq: start, rtxSeq: start}, nil
}

// NewWithSeed creates a Sequencer with a caller-supplied starting
// sequence number, for deterministic tests.
func NewWithSeed(seed uint16) *Sequencer {
	return &Sequencer{mediaSeq: seed, rtxSeq: seed}
}

// NextMedia returns the next media sequence number. If isKeyframe is
// true the returned sequence number is recorded as the most recent
// keyframe boundary.
func (s *Sequencer) NextMedia(isKeyframe bool) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.mediaSeq
	s.mediaSeq++
	if isKeyframe {
		s.lastKeyframeSeq = seq
		s.sawKeyframe = true
	}
	return seq
}

// NextRTX returns the next sequence number on the stream's independent
// RTX sequence-number space (RFC 4588 §4: RTX packets carry their own
// sequence-number series, distinct from the original media's).
func (s *Sequencer) NextRTX() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.rtxSeq
	s.rtxSeq++
	return seq
}

// LastKeyframeSeq returns the most recent media sequence number marked
// as a keyframe boundary, and whether one has been seen yet.
func (s *Sequencer) LastKeyframeSeq() (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKeyframeSeq, s.sawKeyframe
}
