package rtpcore

import (
	"time"

	"github.com/arzzra/rtcore/pkg/rtcp"
	"github.com/arzzra/rtcore/pkg/seqnum"
)

// receiveStream is the minimal per-source bookkeeping needed to build
// outgoing SR/RR report blocks about a remote stream we are receiving:
// extended highest sequence number and a loss count derived from it,
// per RFC 3550 §6.4.1 (spec.md §4.7). Jitter itself is delegated to
// rtcpreceiver.Receiver.UpdateJitter, which already implements RFC
// 3550 Appendix A.8 against the teacher's CalculateJitter.
type receiveStream struct {
	ssrc     uint32
	unwrap   seqnum.Unwrapper
	received uint32

	baseUnwrapped        uint64
	haveBase              bool
	expectedAtLastReport  uint64
	receivedAtLastReport  uint32
}

func newReceiveStream(ssrc uint32) *receiveStream {
	return &receiveStream{ssrc: ssrc}
}

// onPacket folds one arrival into the stream's sequence tracking.
func (r *receiveStream) onPacket(seq uint16) {
	u := r.unwrap.Unwrap(seq)
	if !r.haveBase {
		r.baseUnwrapped = u
		r.haveBase = true
	}
	r.received++
}

// reportBlock builds a ReportBlock reflecting activity since the last
// call, resetting the loss-fraction baseline (RFC 3550 §6.4.1).
func (r *receiveStream) reportBlock(lastSR uint32, lastSRRecv time.Time, now time.Time) rtcp.ReportBlock {
	highest := r.unwrap.Highest()
	expected := highest - r.baseUnwrapped + 1

	expectedInterval := expected - r.expectedAtLastReport
	receivedInterval := r.received - r.receivedAtLastReport
	var fraction uint8
	if expectedInterval > 0 && expectedInterval > uint64(receivedInterval) {
		lost := expectedInterval - uint64(receivedInterval)
		fraction = uint8((lost * 256) / expectedInterval)
	}
	cumulativeLost := int32(expected) - int32(r.received)

	r.expectedAtLastReport = expected
	r.receivedAtLastReport = r.received

	var dlsr uint32
	if !lastSRRecv.IsZero() {
		dlsr = uint32(now.Sub(lastSRRecv).Seconds() * 65536)
	}

	return rtcp.ReportBlock{
		SSRC:                 r.ssrc,
		FractionLost:         fraction,
		CumulativeLost:       cumulativeLost,
		ExtendedHighestSeqNo: uint32(highest),
		LastSR:               lastSR,
		DelaySinceLastSR:     dlsr,
	}
}
