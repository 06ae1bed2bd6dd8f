// Package metrics exposes the user-visible counters spec.md §7/§2 call
// out: per-type sent bytes, skipped-RTCP-packet count, in-flight bytes,
// RTT, NACK/RTX activity. There is no received-byte counter.
//
// Grounded on the teacher's MetricsCollector (pkg/rtp/metrics.go,
// metrics_collector.go), narrowed from its general multi-session HTTP/
// JSON/Prometheus export surface down to exactly the counters
// SPEC_FULL.md's egress/receiver/feedback components produce, and
// rewired onto github.com/prometheus/client_golang's CounterVec/GaugeVec
// (the teacher imports this dependency but never actually calls it —
// its own exporter hand-rolls the Prometheus text format instead; this
// package uses the library for real, see DESIGN.md).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PacketClass labels the counter vectors below (spec.md §4.5's
// per-type byte/bitrate counters: total, header, payload, padding,
// retransmit, FEC).
type PacketClass string

const (
	ClassMedia       PacketClass = "media"
	ClassRetransmit  PacketClass = "retransmit"
	ClassFEC         PacketClass = "fec"
	ClassPadding     PacketClass = "padding"
)

// Registry is the set of Prometheus collectors one RtpSenderEgress /
// RtcpReceiver pair registers, namespaced by local SSRC so multiple
// senders in the same process don't collide.
type Registry struct {
	BytesSent     *prometheus.CounterVec // labels: class
	HeaderBytes   prometheus.Counter
	PayloadBytes  prometheus.Counter
	PaddingBytes  prometheus.Counter
	PacketsSent   *prometheus.CounterVec // labels: class
	SkippedRTCP   prometheus.Counter
	NacksReceived prometheus.Counter
	NacksSent     prometheus.Counter
	PLIReceived   prometheus.Counter
	FIRReceived   prometheus.Counter
	InFlightBytes prometheus.Gauge
	RTTSeconds    prometheus.Gauge
	BitrateBps    prometheus.Gauge
}

// NewRegistry creates and registers a Registry's collectors under reg,
// labeled by ssrc so per-stream instances don't collide when several
// senders share a process-wide prometheus.Registry (the teacher's
// MetricsCollector instead keyed everything by a string session ID in
// its own in-memory map; here Prometheus's label mechanism does that
// job natively).
func NewRegistry(reg prometheus.Registerer, ssrc uint32) *Registry {
	constLabels := prometheus.Labels{"ssrc": formatSSRC(ssrc)}
	r := &Registry{
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "rtcore",
			Subsystem:   "egress",
			Name:        "bytes_sent_total",
			Help:        "Bytes handed to the transport, by packet class.",
			ConstLabels: constLabels,
		}, []string{"class"}),
		HeaderBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcore", Subsystem: "egress", Name: "header_bytes_total",
			Help: "RTP header bytes sent.", ConstLabels: constLabels,
		}),
		PayloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcore", Subsystem: "egress", Name: "payload_bytes_total",
			Help: "RTP payload bytes sent.", ConstLabels: constLabels,
		}),
		PaddingBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcore", Subsystem: "egress", Name: "padding_bytes_total",
			Help: "RTP padding bytes sent.", ConstLabels: constLabels,
		}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "rtcore",
			Subsystem:   "egress",
			Name:        "packets_sent_total",
			Help:        "Packets handed to the transport, by packet class.",
			ConstLabels: constLabels,
		}, []string{"class"}),
		SkippedRTCP: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcore", Subsystem: "rtcp", Name: "skipped_packets_total",
			Help: "Inbound compound RTCP members skipped as malformed (spec.md §7).", ConstLabels: constLabels,
		}),
		NacksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcore", Subsystem: "rtcp", Name: "nacks_received_total",
			Help: "Inbound NACK packets dispatched to the retransmitter.", ConstLabels: constLabels,
		}),
		NacksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcore", Subsystem: "rtcp", Name: "nacks_sent_total",
			Help: "Outbound NACK items sent.", ConstLabels: constLabels,
		}),
		PLIReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcore", Subsystem: "rtcp", Name: "pli_received_total",
			Help: "Inbound picture-loss-indication requests.", ConstLabels: constLabels,
		}),
		FIRReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcore", Subsystem: "rtcp", Name: "fir_received_total",
			Help: "Inbound full-intra-request requests.", ConstLabels: constLabels,
		}),
		InFlightBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtcore", Subsystem: "feedback", Name: "in_flight_bytes",
			Help: "Bytes sent and not yet acknowledged or declared lost.", ConstLabels: constLabels,
		}),
		RTTSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtcore", Subsystem: "rtcp", Name: "round_trip_time_seconds",
			Help: "Most recent RTT estimate from SR/DLRR.", ConstLabels: constLabels,
		}),
		BitrateBps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtcore", Subsystem: "egress", Name: "send_bitrate_bps",
			Help: "1s sliding-window send bitrate.", ConstLabels: constLabels,
		}),
	}
	for _, c := range []prometheus.Collector{
		r.BytesSent, r.HeaderBytes, r.PayloadBytes, r.PaddingBytes, r.PacketsSent,
		r.SkippedRTCP, r.NacksReceived, r.NacksSent, r.PLIReceived, r.FIRReceived,
		r.InFlightBytes, r.RTTSeconds, r.BitrateBps,
	} {
		// A second Sender constructed for the same SSRC against a shared
		// registerer (rtpcore.NewSender re-Start) re-registers identical
		// collectors; AlreadyRegisteredError is expected and ignored here
		// rather than surfaced to the caller.
		_ = reg.Register(c)
	}
	return r
}

func formatSSRC(ssrc uint32) string {
	const hexDigits = "0123456789abcdef"
	buf := [8]byte{}
	for i := 7; i >= 0; i-- {
		buf[i] = hexDigits[ssrc&0xF]
		ssrc >>= 4
	}
	return string(buf[:])
}

// RateLimiter enforces spec.md §7's "one warning per kind per 10s"
// policy. Grounded on the teacher's periodic-cleanup ticker idiom
// (metrics_collector.go's cleanupOldSessions), narrowed to a per-kind
// last-fired timestamp instead of a background goroutine.
type RateLimiter struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
}

// NewRateLimiter creates a RateLimiter with the default 10s window.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{window: 10 * time.Second, last: make(map[string]time.Time)}
}

// Allow reports whether a warning of the given kind may fire now,
// recording the firing time if so.
func (r *RateLimiter) Allow(kind string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.last[kind]; ok && now.Sub(last) < r.window {
		return false
	}
	r.last[kind] = now
	return true
}

// BitrateEstimator tracks a 1s sliding-window send bitrate (spec.md
// §4.5: "Update bitrate estimators (1 s sliding window)"). Grounded on
// the teacher's SessionStatistics byte counters (pkg/rtp/session.go),
// generalized into a standalone sliding window.
type BitrateEstimator struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
}

type sample struct {
	at    time.Time
	bytes int
}

// NewBitrateEstimator creates an estimator over the default 1s window.
func NewBitrateEstimator() *BitrateEstimator {
	return &BitrateEstimator{window: time.Second}
}

// Add records n bytes sent at now.
func (b *BitrateEstimator) Add(now time.Time, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, sample{at: now, bytes: n})
	b.evict(now)
}

func (b *BitrateEstimator) evict(now time.Time) {
	cut := now.Add(-b.window)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cut) {
		i++
	}
	b.samples = b.samples[i:]
}

// BitsPerSecond returns the current windowed bitrate.
func (b *BitrateEstimator) BitsPerSecond(now time.Time) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evict(now)
	var total int
	for _, s := range b.samples {
		total += s.bytes
	}
	return int64(total) * 8
}

// DelayTracker maintains send-to-capture delay per spec.md §4.5 point
// 6: a sliding map keyed by send time so the observer can report
// average, max, and total delay. Grounded on the teacher's
// SessionStatistics.Jitter-style running aggregate (pkg/rtp/session.go).
type DelayTracker struct {
	mu        sync.Mutex
	window    time.Duration
	entries   []delayEntry
	total     time.Duration
	maxSeen   time.Duration
}

type delayEntry struct {
	sendTime time.Time
	delay    time.Duration
}

// NewDelayTracker creates a tracker retaining entries for window.
func NewDelayTracker(window time.Duration) *DelayTracker {
	return &DelayTracker{window: window}
}

// Observe records a send-to-capture delay for a packet sent at
// sendTime.
func (d *DelayTracker) Observe(sendTime time.Time, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, delayEntry{sendTime: sendTime, delay: delay})
	d.total += delay
	if delay > d.maxSeen {
		d.maxSeen = delay
	}
	cut := sendTime.Add(-d.window)
	i := 0
	for i < len(d.entries) && d.entries[i].sendTime.Before(cut) {
		d.total -= d.entries[i].delay
		i++
	}
	if i > 0 {
		d.entries = d.entries[i:]
		d.maxSeen = 0
		for _, e := range d.entries {
			if e.delay > d.maxSeen {
				d.maxSeen = e.delay
			}
		}
	}
}

// Stats returns the current window's average, max, and summed delay.
func (d *DelayTracker) Stats() (avg, max, total time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.entries) == 0 {
		return 0, 0, d.total
	}
	var sum time.Duration
	for _, e := range d.entries {
		sum += e.delay
	}
	return sum / time.Duration(len(d.entries)), d.maxSeen, d.total
}
