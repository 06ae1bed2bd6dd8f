// Package egress implements RtpSenderEgress (spec.md §4.5, §6): the
// terminal stage of the send path. It assigns the transport-wide
// sequence number, feeds the congestion-feedback statistician, applies
// pending FEC frame-type hints, enforces max_rtp_packet_size, hands the
// marshaled packet to the opaque transport with a DSCP hint, and
// updates the per-type byte/bitrate/delay counters spec.md §7 exposes
// as metrics.
//
// Grounded on the teacher's per-stream counter tracking embedded in
// pkg/rtp/rtp_session.go and pkg/rtp/health_monitor.go's quality
// bookkeeping, generalized from a single fixed SSRC to the
// media/RTX/FEC SSRC triple of spec.md §3's SessionIdentity, and wired
// onto pkg/transport/pkg/metrics/pkg/feedback instead of those files'
// session-scoped globals.
package egress

import (
	"errors"
	"fmt"
	"time"

	"github.com/arzzra/rtcore/pkg/bitio"
	"github.com/arzzra/rtcore/pkg/clock"
	"github.com/arzzra/rtcore/pkg/feedback"
	"github.com/arzzra/rtcore/pkg/metrics"
	"github.com/arzzra/rtcore/pkg/rtppkt"
	"github.com/arzzra/rtcore/pkg/seqnum"
)

// Errors returned by Send (spec.md §7's "configuration mismatch" and
// "resource exhaustion" kinds).
var (
	ErrSSRCMismatch   = errors.New("egress: packet SSRC does not match any registered stream")
	ErrPacketTooLarge = errors.New("egress: packet exceeds max_rtp_packet_size")
)

// minMaxRTPPacketSize/maxMaxRTPPacketSize bound max_rtp_packet_size
// (spec.md §6: "clamped to [100, 1500]").
const (
	minMaxRTPPacketSize = 100
	maxMaxRTPPacketSize = 1500
	defaultMTUOverhead  = 28 // UDP/IPv6 header, spec.md §6
	defaultMTU          = 1500
)

// Identity is SessionIdentity (spec.md §3): the SSRC triple and
// payload-type maps an egress instance is allowed to send on.
type Identity struct {
	MediaSSRC uint32
	RTXSSRC   *uint32
	FECSSRC   *uint32
	// ClockRate maps payload type -> RTP clock rate.
	ClockRate map[uint8]uint32
	// RTXPayloadType maps an associated media payload type to its RTX
	// payload type (spec.md §6: rtx_payload_type_map).
	RTXPayloadType map[uint8]uint8
}

// Class labels which counter bucket a send updates.
type Class = metrics.PacketClass

// FecNotifier lets Send tell the FEC encoder about the frame type just
// sent, so it can (re)compute protection parameters per spec.md §4.5
// point 3 and §9's open question ("source enables FEC regardless of
// rtcp_mode; preserve behavior").
type FecNotifier interface {
	NotifyFrame(isKeyFrame bool)
}

// Transport is the opaque "accepts a buffer to send" collaborator
// (spec.md §9 design note), satisfied by *transport.UDPConn.
type Transport interface {
	Send(payload []byte, dscp int) error
}

// Config carries the subset of spec.md §6's sender configuration
// options this package consumes.
type Config struct {
	// TransportSeqExtID is the one-byte header-extension id registered
	// for transport-sequence-number (0 disables TSN assignment).
	TransportSeqExtID uint8
	// SendSideBWEWithOverhead mirrors the option of the same name:
	// when set, in-flight-bytes accounting includes TransportOverhead.
	SendSideBWEWithOverhead bool
	TransportOverhead       int
	MaxRTPPacketSize        int
}

// DefaultConfig returns a Config with max_rtp_packet_size defaulted to
// MTU - 28, clamped to [100, 1500] (spec.md §6).
func DefaultConfig() Config {
	return Config{MaxRTPPacketSize: clamp(defaultMTU-defaultMTUOverhead, minMaxRTPPacketSize, maxMaxRTPPacketSize)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SendMeta describes one outgoing packet's bookkeeping metadata.
type SendMeta struct {
	SSRC        uint32
	Class       Class
	IsKeyFrame  bool
	CaptureTime time.Time // zero = not tracked
	DSCP        int
}

// Egress is RtpSenderEgress.
type Egress struct {
	Identity  Identity
	Config    Config
	Clock     clock.Clock
	Transport Transport
	Metrics   *metrics.Registry
	Feedback  *feedback.Statistician
	Fec       FecNotifier

	unwrap *seqnum.Unwrapper
	tsn    uint16

	delay    *metrics.DelayTracker
	bitrate  map[Class]*metrics.BitrateEstimator
}

// New creates an Egress for the given identity, sending through t.
func New(identity Identity, cfg Config, clk clock.Clock, t Transport, reg *metrics.Registry, stat *feedback.Statistician) *Egress {
	return &Egress{
		Identity:  identity,
		Config:    cfg,
		Clock:     clk,
		Transport: t,
		Metrics:   reg,
		Feedback:  stat,
		unwrap:    &seqnum.Unwrapper{},
		delay:     metrics.NewDelayTracker(10 * time.Second),
		bitrate: map[Class]*metrics.BitrateEstimator{
			metrics.ClassMedia:      metrics.NewBitrateEstimator(),
			metrics.ClassRetransmit: metrics.NewBitrateEstimator(),
			metrics.ClassFEC:        metrics.NewBitrateEstimator(),
			metrics.ClassPadding:    metrics.NewBitrateEstimator(),
		},
	}
}

// Send implements spec.md §4.5's six-step send sequence.
func (e *Egress) Send(pkt *rtppkt.Packet, meta SendMeta) error {
	if !e.ssrcRegistered(meta.SSRC) {
		return ErrSSRCMismatch
	}

	isRetransmit := meta.Class == metrics.ClassRetransmit
	now := e.Clock.Now()

	if e.Config.TransportSeqExtID != 0 {
		buf, err := pkt.AllocateExtension(e.Config.TransportSeqExtID, 2)
		if err == nil {
			tsn := e.tsn
			e.tsn++
			bitio.PutUint16(buf, tsn)
			if e.Feedback != nil {
				overhead := 0
				if e.Config.SendSideBWEWithOverhead {
					overhead = e.Config.TransportOverhead
				}
				unwrapped := e.unwrap.Unwrap(tsn)
				e.Feedback.AddPacket(unwrapped, pkt.MarshalSize(), overhead, now)
				e.Feedback.ProcessSent(unwrapped, now, isRetransmit)
			}
		}
	}

	if e.Fec != nil {
		e.Fec.NotifyFrame(meta.IsKeyFrame)
	}

	buf, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("egress: marshal: %w", err)
	}
	if len(buf) > e.Config.MaxRTPPacketSize {
		return ErrPacketTooLarge
	}

	if err := e.Transport.Send(buf, meta.DSCP); err != nil {
		return fmt.Errorf("egress: transport send: %w", err)
	}

	e.recordCounters(pkt, buf, meta, now)
	return nil
}

func (e *Egress) ssrcRegistered(ssrc uint32) bool {
	if ssrc == e.Identity.MediaSSRC {
		return true
	}
	if e.Identity.RTXSSRC != nil && ssrc == *e.Identity.RTXSSRC {
		return true
	}
	if e.Identity.FECSSRC != nil && ssrc == *e.Identity.FECSSRC {
		return true
	}
	return false
}

func (e *Egress) recordCounters(pkt *rtppkt.Packet, wire []byte, meta SendMeta, now time.Time) {
	headerBytes := pkt.HeaderSize()
	paddingBytes := int(pkt.PaddingSize())
	payloadBytes := len(wire) - headerBytes - paddingBytes
	if payloadBytes < 0 {
		payloadBytes = 0
	}

	if e.Metrics != nil {
		e.Metrics.BytesSent.WithLabelValues(string(meta.Class)).Add(float64(len(wire)))
		e.Metrics.PacketsSent.WithLabelValues(string(meta.Class)).Inc()
		e.Metrics.HeaderBytes.Add(float64(headerBytes))
		e.Metrics.PayloadBytes.Add(float64(payloadBytes))
		e.Metrics.PaddingBytes.Add(float64(paddingBytes))
		if e.Feedback != nil {
			e.Metrics.InFlightBytes.Set(float64(e.Feedback.InFlightBytes()))
		}
	}

	if est, ok := e.bitrate[meta.Class]; ok {
		est.Add(now, len(wire))
		if e.Metrics != nil && meta.Class == metrics.ClassMedia {
			e.Metrics.BitrateBps.Set(float64(est.BitsPerSecond(now)))
		}
	}

	if !meta.CaptureTime.IsZero() {
		e.delay.Observe(now, now.Sub(meta.CaptureTime))
	}
}

// DelayStats returns the send-to-capture delay observer's average,
// max, and window-summed delay (spec.md §4.5 point 6).
func (e *Egress) DelayStats() (avg, max, total time.Duration) {
	return e.delay.Stats()
}

// SendBitrate returns the current 1s-windowed bitrate for class.
func (e *Egress) SendBitrate(class Class, now time.Time) int64 {
	est, ok := e.bitrate[class]
	if !ok {
		return 0
	}
	return est.BitsPerSecond(now)
}
