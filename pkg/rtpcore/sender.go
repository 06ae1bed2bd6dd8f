package rtpcore

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/rtcore/pkg/bitio"
	"github.com/arzzra/rtcore/pkg/bytebuffer"
	"github.com/arzzra/rtcore/pkg/clock"
	"github.com/arzzra/rtcore/pkg/egress"
	"github.com/arzzra/rtcore/pkg/fec"
	"github.com/arzzra/rtcore/pkg/feedback"
	"github.com/arzzra/rtcore/pkg/history"
	"github.com/arzzra/rtcore/pkg/metrics"
	"github.com/arzzra/rtcore/pkg/pacer"
	"github.com/arzzra/rtcore/pkg/rtcp"
	"github.com/arzzra/rtcore/pkg/rtcpreceiver"
	"github.com/arzzra/rtcore/pkg/rtcpsender"
	"github.com/arzzra/rtcore/pkg/rtppkt"
	"github.com/arzzra/rtcore/pkg/sequencer"
	"github.com/arzzra/rtcore/pkg/taskqueue"
)

// Sender is the top-level facade SPEC_FULL.md §13 calls "Wiring /
// top-level sender facade": one local media source wired end to end —
// Sequencer assigns sequence numbers, History retains sent packets for
// NACK-driven resend, PacedSender shapes egress timing, Egress performs
// the terminal send, the feedback Statistician tracks in-flight bytes,
// RtcpSender/RtcpReceiver drive the control-plane round trip.
//
// Grounded on the teacher's Session construct-then-Start lifecycle
// (pkg/rtp/session.go: NewSession, then Start spins up its worker
// goroutine) adapted onto pkg/taskqueue's single-threaded task-runner
// model (spec.md §5) in place of the teacher's raw goroutine + mutex.
type Sender struct {
	cfg   Config
	clk   clock.Clock
	cname string

	sequencer *sequencer.Sequencer
	history   *history.History
	pacer     *pacer.Sender
	egress    *egress.Egress
	feedback  *feedback.Statistician
	metrics   *metrics.Registry
	rtcpSend  *rtcpsender.Scheduler
	rtcpRecv  *rtcpreceiver.Receiver
	fec       *fecAdapter
	extMap    *rtppkt.ExtensionMap

	tq    *taskqueue.Queue
	alive *taskqueue.AliveFlag

	packetCount uint32
	octetCount  uint32
	lastTS      uint32
	firSeq      uint8

	remotes map[uint32]*receiveStream
}

// NewSender builds a Sender for cfg, sending through t and registering
// its metrics under reg (pass prometheus.NewRegistry() for an isolated
// instance, or a shared registerer — duplicate collector registration
// from an earlier instance on the same SSRC is tolerated, matching the
// teacher's idempotent re-Start semantics in pkg/rtp/session.go).
func NewSender(cfg Config, clk clock.Clock, t egress.Transport, reg prometheus.Registerer, cname string) (*Sender, error) {
	seq, err := sequencer.New()
	if err != nil {
		return nil, fmt.Errorf("rtpcore: new sequencer: %w", err)
	}

	identity := egress.Identity{
		MediaSSRC:      cfg.LocalMediaSSRC,
		RTXSSRC:        cfg.RTXSendSSRC,
		FECSSRC:        cfg.FlexFECSSRC,
		ClockRate:      cfg.ClockRate,
		RTXPayloadType: cfg.RTXPayloadTypeMap,
	}

	stat := feedback.New()
	registry := metrics.NewRegistry(reg, cfg.LocalMediaSSRC)

	egCfg := egress.Config{
		TransportSeqExtID:       cfg.TransportSeqExtID,
		SendSideBWEWithOverhead: cfg.SendSideBWEWithOverhead,
		TransportOverhead:       cfg.TransportOverhead,
		MaxRTPPacketSize:        cfg.MaxRTPPacketSize,
	}
	if egCfg.MaxRTPPacketSize == 0 {
		egCfg = egress.DefaultConfig()
		egCfg.TransportSeqExtID = cfg.TransportSeqExtID
		egCfg.SendSideBWEWithOverhead = cfg.SendSideBWEWithOverhead
		egCfg.TransportOverhead = cfg.TransportOverhead
	}
	eg := egress.New(identity, egCfg, clk, t, registry, stat)

	pc := pacer.New(clk, cfg.PacingBitrateBps)

	var fa *fecAdapter
	if cfg.FlexFECSSRC != nil && cfg.FECGroupSize > 0 {
		nextFecSeq := seq.NextRTX // FEC shares the RTX sequence space, distinct from media (spec.md §4.2)
		fa = newFecAdapter(*cfg.FlexFECSSRC, cfg.FECPayloadType, cfg.FECGroupSize, fec.Params{
			ProtectionFactor:    cfg.FECProtectionFactor,
			NumImportantPackets: cfg.FECNumImportant,
			UnequalProtection:   cfg.FECUnequalProtection,
		}, nextFecSeq)
		pc.Fec = fa
		eg.Fec = fa
	}

	s := &Sender{
		cfg:       cfg,
		clk:       clk,
		cname:     cname,
		sequencer: seq,
		history:   history.New(cfg.HistoryCapacity),
		pacer:     pc,
		egress:    eg,
		feedback:  stat,
		metrics:   registry,
		rtcpRecv:  rtcpreceiver.New(clk),
		fec:       fa,
		extMap:    rtppkt.NewExtensionMap(),
		tq:        taskqueue.New("rtpcore-sender"),
		alive:     taskqueue.NewAliveFlag(),
		remotes:   make(map[uint32]*receiveStream),
	}
	if cfg.TransportSeqExtID != 0 {
		s.extMap.Register(cfg.TransportSeqExtID, rtppkt.ExtTransportSequenceNumber)
	}

	s.rtcpSend = rtcpsender.New(func(data []byte) error {
		return t.Send(data, 0)
	}, cfg.Audio)
	s.rtcpSend.Mode = cfg.RTCPMode
	s.rtcpSend.Builders = rtcpsender.Builders{
		BuildReport: s.buildReport,
		BuildSDES:   s.buildSDES,
		BuildBye:    s.buildBye,
		BuildPLI:    s.buildPLI,
		BuildFIR:    s.buildFIR,
	}
	s.rtcpRecv.Handlers = rtcpreceiver.Handlers{
		OnNack: s.onNack,
	}
	s.rtcpRecv.Metrics = registry
	s.rtcpRecv.Logger = cfg.Logger

	return s, nil
}

// Start schedules the sender's recurring pacer drain and RTCP report
// build onto its own task queue, mirroring the teacher's per-session
// worker loop (pkg/rtp/session.go Start) built on pkg/taskqueue instead
// of a bare goroutine (spec.md §5).
func (s *Sender) Start() {
	// Report and SDES are sticky flags: requesting them once keeps every
	// future Build call emitting them, matching "send a report every
	// interval" rather than a one-shot request (spec.md §4.7).
	s.rtcpSend.RequestSend(rtcpsender.KindReport)
	s.rtcpSend.RequestSend(rtcpsender.KindSDES)
	s.scheduleRTCP(0)
	s.schedulePacer()
}

// Stop halts the sender's task queue; in-flight callbacks already
// posted still run to completion.
func (s *Sender) Stop() {
	s.alive.Kill()
	s.tq.Stop()
}

func (s *Sender) schedulePacer() {
	s.tq.PostDelayed(time.Millisecond, s.alive.Guard(func() {
		s.drainPacer()
		s.schedulePacer()
	}))
}

func (s *Sender) drainPacer() {
	now := s.clk.Now()
	for _, qp := range s.pacer.Process(now) {
		s.sendReleased(qp, now)
	}
}

func (s *Sender) scheduleRTCP(delay time.Duration) {
	s.tq.PostDelayed(delay, s.alive.Guard(func() {
		next, err := s.rtcpSend.Build(int(s.egress.SendBitrate(metrics.ClassMedia, s.clk.Now()) / 1000))
		if err != nil {
			next = time.Second
		}
		s.scheduleRTCP(next)
	}))
}

// EnqueueMedia builds an RTP packet from payload and queues it for
// paced transmission. TSN extension assignment, history retention, and
// FEC batching all happen at actual release time, not here, so that
// TSN numbering tracks true send order (spec.md §4.5/§4.6).
func (s *Sender) EnqueueMedia(payloadType uint8, timestamp uint32, marker bool, payload []byte, isKeyFrame bool, captureTime time.Time, dscp int) {
	pkt := rtppkt.New()
	pkt.SetAllowMixedExtensions(s.cfg.ExtmapAllowMixed)
	pkt.PayloadType = payloadType
	pkt.Timestamp = timestamp
	pkt.Marker = marker
	pkt.SSRC = s.cfg.LocalMediaSSRC
	pkt.SequenceNumber = s.sequencer.NextMedia(isKeyFrame)
	pkt.SetPayload(payload)

	s.pacer.Enqueue(&pacer.QueuedPacket{
		Priority:    s.mediaPriority(),
		Size:        pkt.MarshalSize(),
		EnqueueTime: s.clk.Now(),
		RTP:         pkt,
		SSRC:        s.cfg.LocalMediaSSRC,
		IsKeyFrame:  isKeyFrame,
		CaptureTime: captureTime,
		DSCP:        dscp,
	})
}

func (s *Sender) mediaPriority() pacer.Priority {
	if s.cfg.Audio {
		return pacer.PriorityAudio
	}
	return pacer.PriorityVideo
}

// sendReleased hands one pacer-released packet to Egress, records it
// in History for potential retransmission, and folds a sent media
// packet into the FEC group in progress.
func (s *Sender) sendReleased(qp *pacer.QueuedPacket, now time.Time) {
	class := metrics.ClassMedia
	switch qp.Priority {
	case pacer.PriorityRetransmission:
		class = metrics.ClassRetransmit
	case pacer.PriorityPadding:
		class = metrics.ClassPadding
	}
	if s.cfg.FlexFECSSRC != nil && qp.SSRC == *s.cfg.FlexFECSSRC {
		class = metrics.ClassFEC
	}

	meta := egress.SendMeta{SSRC: qp.SSRC, Class: class, IsKeyFrame: qp.IsKeyFrame, CaptureTime: qp.CaptureTime, DSCP: qp.DSCP}
	if err := s.egress.Send(qp.RTP, meta); err != nil {
		return
	}

	s.packetCount++
	s.octetCount += uint32(len(qp.RTP.Payload()))
	s.lastTS = qp.RTP.Timestamp

	if class == metrics.ClassMedia {
		if buf, err := qp.RTP.Marshal(); err == nil {
			wire := bytebuffer.Wrap(buf)
			s.history.Put(qp.RTP.SequenceNumber, wire, now)
			wire.Release()
		}
		if s.fec != nil {
			s.fec.OnMedia(qp.RTP)
		}
	}
}

// onNack handles an inbound NACK by rebuilding and resending every
// still-retained sequence number as an RFC 4588 RTX envelope, queued
// at retransmission priority (spec.md §4.3/§4.7).
func (s *Sender) onNack(_, mediaSSRC uint32, items []rtcp.NackItem) {
	if mediaSSRC != s.cfg.LocalMediaSSRC || s.cfg.RTXSendSSRC == nil {
		return
	}
	now := s.clk.Now()
	for _, item := range items {
		for _, seq := range item.ExpandLostSequenceNumbers() {
			wire, ok := s.history.GetAndMarkPending(seq, now, s.buildRTX)
			if !ok {
				continue
			}
			pkt, err := rtppkt.Parse(wire)
			if err != nil {
				continue
			}
			if s.metrics != nil {
				s.metrics.NacksSent.Inc()
			}
			s.pacer.Enqueue(&pacer.QueuedPacket{
				Priority: pacer.PriorityRetransmission,
				Size:     len(wire),
				RTP:      pkt,
				SSRC:     *s.cfg.RTXSendSSRC,
			})
		}
	}
}

// buildRTX wraps an originally-sent packet's bytes into an RFC 4588 RTX
// envelope: the original header with a new SSRC/PT/sequence-number
// triple, and a payload of {original sequence number, original
// payload}.
func (s *Sender) buildRTX(original *bytebuffer.Buffer) []byte {
	orig, err := rtppkt.Parse(original.Bytes())
	if err != nil {
		return nil
	}
	rtx := rtppkt.New()
	rtx.PayloadType = s.cfg.RTXPayloadTypeMap[orig.PayloadType]
	rtx.Timestamp = orig.Timestamp
	rtx.Marker = orig.Marker
	rtx.SSRC = *s.cfg.RTXSendSSRC
	rtx.SequenceNumber = s.sequencer.NextRTX()

	osn := make([]byte, 2+len(orig.Payload()))
	bitio.PutUint16(osn, orig.SequenceNumber)
	copy(osn[2:], orig.Payload())
	rtx.SetPayload(osn)

	buf, err := rtx.Marshal()
	if err != nil {
		return nil
	}
	return buf
}

// OnRTPReceived folds an inbound RTP arrival from ssrc into jitter and
// sequence-number tracking used to build outgoing report blocks
// (spec.md §4.7).
func (s *Sender) OnRTPReceived(ssrc uint32, seq uint16, timestamp uint32, arrival time.Time, clockRate uint32) {
	rs, ok := s.remotes[ssrc]
	if !ok {
		rs = newReceiveStream(ssrc)
		s.remotes[ssrc] = rs
	}
	rs.onPacket(seq)
	s.rtcpRecv.UpdateJitter(ssrc, timestamp, arrival, clockRate)
}

// HandleCompoundRTCP feeds an inbound RTCP datagram to the receive
// side (report blocks, NACK/PLI/FIR dispatch, DLRR-derived RTT).
func (s *Sender) HandleCompoundRTCP(data []byte) error {
	return s.rtcpRecv.HandleCompound(data)
}

// RequestKeyFrame schedules a PLI at the next RTCP build opportunity
// (spec.md §4.7).
func (s *Sender) RequestKeyFrame() {
	s.rtcpSend.RequestSend(rtcpsender.KindPLI)
}

// RequestFullIntraFrame schedules a FIR at the next RTCP build
// opportunity (spec.md §4.7).
func (s *Sender) RequestFullIntraFrame() {
	s.rtcpSend.RequestSend(rtcpsender.KindFIR)
}

// RequestBye schedules a BYE, always ordered last in the compound
// packet per spec.md §9's resolved open question.
func (s *Sender) RequestBye() {
	s.rtcpSend.RequestSend(rtcpsender.KindBye)
}
