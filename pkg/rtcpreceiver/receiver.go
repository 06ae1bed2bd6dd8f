// Package rtcpreceiver implements RtcpReceiver (spec.md §4.7/§2):
// parses inbound compound RTCP, maintains per-source report-block
// statistics (jitter, fraction lost), computes RTT from SR/DLRR, and
// dispatches NACK lists and keyframe requests to upper layers.
//
// Jitter math is lifted directly from the teacher's CalculateJitter
// (pkg/rtp/rtcp.go, RFC 3550 Appendix A.8); RTT computation follows the
// same SR/DLRR round-trip arithmetic as
// other_examples/4c840947_bluenviron-gortsplib__pkg-rtcpreceiver-rtcpreceiver.go.go.
package rtcpreceiver

import (
	"log"
	"sync"
	"time"

	"github.com/arzzra/rtcore/pkg/clock"
	"github.com/arzzra/rtcore/pkg/metrics"
	"github.com/arzzra/rtcore/pkg/rtcp"
)

// SourceStats is the running per-SSRC statistics this receiver
// maintains from inbound report blocks and RTP arrivals.
type SourceStats struct {
	SSRC           uint32
	Jitter         float64
	LastTransit    int64
	LastSR         uint32
	LastSRRecvTime time.Time
	RTT            time.Duration
	HaveRTT        bool

	// RemoteFractionLost/RemoteCumulativeLost/RemoteExtendedHighestSeqNo
	// mirror the most recent report block the peer sent about our
	// outgoing stream.
	RemoteFractionLost           uint8
	RemoteCumulativeLost         int32
	RemoteExtendedHighestSeqNo   uint32
	RemoteJitter                 uint32
}

// Handlers are invoked as inbound RTCP is dispatched.
type Handlers struct {
	OnNack func(senderSSRC, mediaSSRC uint32, items []rtcp.NackItem)
	OnPLI  func(senderSSRC, mediaSSRC uint32)
	OnFIR  func(senderSSRC uint32, entries []rtcp.FIREntry)
	OnBye  func(sources []uint32)
}

// Receiver is RtcpReceiver.
type Receiver struct {
	Clock    clock.Clock
	Handlers Handlers

	// Logger and Metrics are optional; when set, a skipped compound
	// member logs a rate-limited warning through Logger and increments
	// Metrics.SkippedRTCP (spec.md §7).
	Logger  *log.Logger
	Metrics *metrics.Registry

	mu      sync.Mutex
	sources map[uint32]*SourceStats
	limiter *metrics.RateLimiter
}

// New creates a Receiver driven by clk.
func New(clk clock.Clock) *Receiver {
	return &Receiver{Clock: clk, sources: make(map[uint32]*SourceStats), limiter: metrics.NewRateLimiter()}
}

func (r *Receiver) statsFor(ssrc uint32) *SourceStats {
	s, ok := r.sources[ssrc]
	if !ok {
		s = &SourceStats{SSRC: ssrc}
		r.sources[ssrc] = s
	}
	return s
}

// HandleCompound parses an inbound compound RTCP datagram and updates
// state / dispatches handlers for every member. A member that fails to
// decode is skipped rather than aborting the whole datagram (spec.md
// §7): it's counted against Metrics.SkippedRTCP and logged through
// Logger at most once per 10s.
func (r *Receiver) HandleCompound(data []byte) error {
	pkts, skipped := rtcp.ParseCompound(data)
	now := r.Clock.Now()

	if skipped > 0 {
		if r.Metrics != nil {
			r.Metrics.SkippedRTCP.Add(float64(skipped))
		}
		if r.Logger != nil && r.limiter.Allow("skipped-rtcp", now) {
			r.Logger.Printf("rtcpreceiver: skipped %d malformed compound RTCP member(s)", skipped)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pkt := range pkts {
		r.handleOne(pkt, now)
	}
	return nil
}

func (r *Receiver) handleOne(pkt rtcp.Packet, now time.Time) {
	switch p := pkt.(type) {
	case *rtcp.SenderReport:
		s := r.statsFor(p.SSRC)
		s.LastSR = compactNTP(p.NTPTime)
		s.LastSRRecvTime = now
		for _, rb := range p.ReportBlocks {
			r.applyReportBlock(rb, now)
		}
	case *rtcp.ReceiverReport:
		for _, rb := range p.ReportBlocks {
			r.applyReportBlock(rb, now)
		}
	case *rtcp.XRReport:
		if p.DLRR != nil {
			for _, d := range p.DLRR.Items {
				r.applyDLRR(d, now)
			}
		}
	case *rtcp.Nack:
		if r.Handlers.OnNack != nil {
			r.Handlers.OnNack(p.SenderSSRC, p.MediaSSRC, p.Items)
		}
	case *rtcp.PictureLossIndication:
		if r.Handlers.OnPLI != nil {
			r.Handlers.OnPLI(p.SenderSSRC, p.MediaSSRC)
		}
	case *rtcp.FullIntraRequest:
		if r.Handlers.OnFIR != nil {
			r.Handlers.OnFIR(p.SenderSSRC, p.Entries)
		}
	case *rtcp.Bye:
		if r.Handlers.OnBye != nil {
			r.Handlers.OnBye(p.Sources)
		}
	}
}

// applyReportBlock records how the remote side sees our outgoing
// stream named by rb.SSRC (our own SSRC, reported back to us).
func (r *Receiver) applyReportBlock(rb rtcp.ReportBlock, now time.Time) {
	s := r.statsFor(rb.SSRC)
	s.RemoteFractionLost = rb.FractionLost
	s.RemoteCumulativeLost = rb.CumulativeLost
	s.RemoteExtendedHighestSeqNo = rb.ExtendedHighestSeqNo
	s.RemoteJitter = rb.Jitter
}

// applyDLRR computes RTT from a DLRR sub-block per RFC 3611 §4.5:
// RTT = now - (arrival_of_RRTR_we_sent's compact NTP encoded in LastRR) - DelaySinceLastRR,
// all expressed in compact-NTP (1/65536 s) units.
func (r *Receiver) applyDLRR(d rtcp.DLRRSubBlock, now time.Time) {
	if d.LastRR == 0 {
		return
	}
	s := r.statsFor(d.SSRC)
	nowCompact := clock.CompactNTP(clock.ToNTP(now))
	rtt := nowCompact - d.LastRR - d.DelaySinceLastRR
	s.RTT = compactToDuration(rtt)
	s.HaveRTT = true
}

// UpdateJitter folds one RTP arrival into the running jitter estimate
// for ssrc, per RFC 3550 Appendix A.8 (ground truth: the teacher's
// CalculateJitter in pkg/rtp/rtcp.go).
func (r *Receiver) UpdateJitter(ssrc uint32, rtpTimestamp uint32, arrival time.Time, clockRate uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statsFor(ssrc)
	transit := arrival.UnixNano()*int64(clockRate)/int64(time.Second) - int64(rtpTimestamp)
	if s.LastTransit != 0 {
		d := transit - s.LastTransit
		if d < 0 {
			d = -d
		}
		s.Jitter += (float64(d) - s.Jitter) / 16.0
	}
	s.LastTransit = transit
}

// Stats returns a copy of the current statistics for ssrc.
func (r *Receiver) Stats(ssrc uint32) (SourceStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[ssrc]
	if !ok {
		return SourceStats{}, false
	}
	return *s, true
}

func compactNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

func compactToDuration(compact uint32) time.Duration {
	return time.Duration(compact) * time.Second / 65536
}
