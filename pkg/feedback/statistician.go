// Package feedback implements TransportFeedbackStatistician (spec.md
// §4.6): correlates sent-packet records with inbound TransportFeedback
// RTCP to produce an acknowledged/lost-packet timeline and in-flight
// byte total for a congestion controller.
//
// No teacher equivalent — arzzra-soft_phone never implements
// bandwidth estimation plumbing. Grounded on
// original_source/src/rtc/congestion_control/.../transport_feedback_adapter.cpp
// equivalents referenced from SPEC_FULL.md §12, with the chunked
// TransportFeedback wire type supplied by pkg/rtcp.
package feedback

import (
	"time"

	"github.com/arzzra/rtcore/pkg/rtcp"
)

// retentionWindow is how long an unacknowledged record is kept before
// being evicted as stale (spec.md §4.6: "evict records older than
// 60s").
const retentionWindow = 60 * time.Second

// PacketResult is one packet the statistician could correlate with an
// inbound feedback report.
type PacketResult struct {
	TransportSeq uint16
	Size         int
	SendTime     time.Time
	ReceiveTime  time.Time
}

// TransportPacketsFeedback is the per-feedback-report output: newly
// resolved results, the in-flight snapshot after processing, and the
// send time of the oldest still-unacked record (used to compute RTT
// lower bounds).
type TransportPacketsFeedback struct {
	Results           []PacketResult
	InFlightBytes     int64
	OldestUnackedSend time.Time
	Dropped           int
	Anomalous         int
}

type record struct {
	unwrappedID  uint64
	size         int
	createdAt    time.Time
	sendTime     time.Time
	sent         bool
	isRetransmit bool
	priorUnacked int
}

// Statistician is TransportFeedbackStatistician.
type Statistician struct {
	records   map[uint64]*record
	order     []uint64 // insertion order, ascending unwrapped id
	inFlight  int64

	pendingUntrackedBytes int

	lastFeedbackRecvTime time.Time
	haveLastFeedbackTime bool
	lastBaseTime         int32
	lastHighWaterID      uint64
	haveHighWater        bool
}

// New creates an empty Statistician.
func New() *Statistician {
	return &Statistician{records: make(map[uint64]*record)}
}

// AddPacket records a packet about to be sent, keyed by its unwrapped
// transport-wide sequence id. Evicts any record older than
// retentionWindow, deducting it from in-flight if still counted.
func (s *Statistician) AddPacket(unwrappedID uint64, size, overhead int, now time.Time) {
	s.evictStale(now)
	s.records[unwrappedID] = &record{
		unwrappedID: unwrappedID,
		size:        size + overhead,
		createdAt:   now,
	}
	s.order = append(s.order, unwrappedID)
}

func (s *Statistician) evictStale(now time.Time) {
	kept := s.order[:0]
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if now.Sub(rec.createdAt) > retentionWindow {
			// Records at or below the feedback high-water mark were
			// already deducted by deductInFlightThrough.
			if rec.sent && !rec.isRetransmit && !(s.haveHighWater && id <= s.lastHighWaterID) {
				s.inFlight -= int64(rec.size)
			}
			delete(s.records, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// ProcessSent marks a previously added record as actually sent,
// folding in bytes from packets that were never tracked individually
// (e.g. audio) as prior_unacked_bytes, and — for a first send, not a
// retransmission — adding its size to in-flight.
func (s *Statistician) ProcessSent(unwrappedID uint64, sendTime time.Time, isRetransmit bool) {
	rec, ok := s.records[unwrappedID]
	if !ok {
		return
	}
	rec.sendTime = sendTime
	rec.sent = true
	rec.isRetransmit = isRetransmit
	rec.priorUnacked = s.pendingUntrackedBytes
	s.pendingUntrackedBytes = 0
	if !isRetransmit {
		s.inFlight += int64(rec.size)
	}
}

// AddUntrackedBytes accumulates bytes sent outside the per-packet
// tracking (e.g. audio packets not individually tracked) to be folded
// into the next ProcessSent call's prior_unacked_bytes.
func (s *Statistician) AddUntrackedBytes(n int) {
	s.pendingUntrackedBytes += n
}

// ProcessFeedback correlates an inbound TransportFeedback RTCP packet
// against the stored records and returns the resolved results.
func (s *Statistician) ProcessFeedback(fb *rtcp.TransportFeedback, recvTime time.Time, unwrap func(seq uint16) uint64) TransportPacketsFeedback {
	if !s.haveLastFeedbackTime {
		s.lastFeedbackRecvTime = recvTime
		s.haveLastFeedbackTime = true
	} else {
		// The 24-bit reference time wraps every 2^24 * 64ms; advance the
		// receive-time estimate by the wrapped delta between this
		// feedback's base time and the previous one, falling back to
		// recvTime if the delta is non-positive.
		const wrap = int64(1) << 24
		deltaUnits := (int64(fb.ReferenceTime) - int64(s.lastBaseTime)) & (wrap - 1)
		if deltaUnits >= wrap/2 {
			deltaUnits -= wrap
		}
		estimate := s.lastFeedbackRecvTime.Add(time.Duration(deltaUnits) * 64 * time.Millisecond)
		if !estimate.After(s.lastFeedbackRecvTime) {
			estimate = recvTime
		}
		s.lastFeedbackRecvTime = estimate
	}
	s.lastBaseTime = fb.ReferenceTime

	out := TransportPacketsFeedback{}
	var accumulatedOffset time.Duration
	seq := fb.BaseSequenceNumber
	for _, st := range fb.Statuses {
		id := unwrap(seq)
		seq++

		if id > s.lastHighWaterID || !s.haveHighWater {
			s.deductInFlightThrough(s.lastHighWaterID, id, s.haveHighWater)
			s.lastHighWaterID = id
			s.haveHighWater = true
		}

		rec, ok := s.records[id]
		if !ok {
			out.Dropped++
			continue
		}
		if !rec.sent {
			out.Anomalous++
			continue
		}
		if !st.Received {
			continue // lost packets remain; later feedback may upgrade them
		}
		accumulatedOffset += time.Duration(st.DeltaTicks) * 250 * time.Microsecond
		recv := s.lastFeedbackRecvTime.Add(accumulatedOffset).Truncate(time.Millisecond)
		out.Results = append(out.Results, PacketResult{
			TransportSeq: seq - 1,
			Size:         rec.size,
			SendTime:     rec.sendTime,
			ReceiveTime:  recv,
		})
		delete(s.records, id)
	}

	out.InFlightBytes = s.inFlight
	out.OldestUnackedSend = s.oldestUnackedSendTime()
	return out
}

func (s *Statistician) deductInFlightThrough(oldHigh, newHigh uint64, haveOld bool) {
	for _, id := range s.order {
		if haveOld && id <= oldHigh {
			continue
		}
		if id > newHigh {
			continue
		}
		if rec, ok := s.records[id]; ok && rec.sent && !rec.isRetransmit {
			s.inFlight -= int64(rec.size)
		}
	}
}

func (s *Statistician) oldestUnackedSendTime() time.Time {
	var oldest time.Time
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok || !rec.sent {
			continue
		}
		if oldest.IsZero() || rec.sendTime.Before(oldest) {
			oldest = rec.sendTime
		}
	}
	return oldest
}

// InFlightBytes returns the current in-flight byte total.
func (s *Statistician) InFlightBytes() int64 { return s.inFlight }
