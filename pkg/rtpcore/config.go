// Package rtpcore wires the leaf components — sequencer, history, FEC,
// pacer, egress, RTCP sender/receiver, and the feedback statistician —
// behind one send/receive facade, per SPEC_FULL.md §13's "Wiring /
// top-level sender facade" row.
//
// The teacher has no single type at this altitude: Session
// (pkg/rtp/session.go) mixes SIP/SDP-era lifecycle concerns into the
// same struct as RTP/RTCP plumbing. rtpcore borrows only its
// construct-then-Start lifecycle and RWMutex-guarded state shape, not
// its SIP surface, per DESIGN.md.
package rtpcore

import (
	"log"

	"github.com/arzzra/rtcore/pkg/egress"
	"github.com/arzzra/rtcore/pkg/rtcpsender"
)

// Config is SenderConfig: every option spec.md §6 enumerates as
// "recognized by the sender", plus the Go-native wiring knobs
// SPEC_FULL.md §10 adds (pacing rate, history capacity, FEC group
// size).
type Config struct {
	// Audio selects the base RTCP interval (5s vs 1s, spec.md §6).
	Audio bool
	// LocalMediaSSRC is required.
	LocalMediaSSRC uint32
	RTXSendSSRC    *uint32
	FlexFECSSRC    *uint32

	// ExtmapAllowMixed permits mixing one-byte and two-byte header
	// extensions within one packet (spec.md §4.1).
	ExtmapAllowMixed bool
	// SendSideBWEWithOverhead folds TransportOverhead into in-flight
	// byte accounting when set (spec.md §6).
	SendSideBWEWithOverhead bool
	TransportOverhead       int
	// MaxRTPPacketSize defaults to MTU-28, clamped to [100, 1500]
	// (spec.md §6).
	MaxRTPPacketSize int

	// RTXPayloadTypeMap maps each associated media payload type to its
	// RTX payload type (spec.md §6).
	RTXPayloadTypeMap map[uint8]uint8
	// ClockRate maps payload type to RTP clock rate, used for jitter
	// computation on the receive side.
	ClockRate map[uint8]uint32
	// FECPayloadType is the payload type stamped onto outgoing ULPFEC
	// packets.
	FECPayloadType uint8

	// TransportSeqExtID is the one-byte extension id registered for
	// transport-wide sequence numbers (0 disables TSN/TWCC).
	TransportSeqExtID uint8

	RTCPMode             rtcpsender.Mode
	RTCPReportIntervalMs uint32

	// PacingBitrateBps is the PacedSender's initial leaky-bucket rate.
	PacingBitrateBps int64
	// HistoryCapacity bounds PacketHistory (spec.md §4.3).
	HistoryCapacity int
	// FECGroupSize is how many media packets rtpcore batches before
	// invoking the FEC encoder (spec.md §4.4's num_media_packets is the
	// caller's choice; this picks a fixed batch rather than a
	// per-frame one, the simplest faithful reading of "protects a set
	// of media packets").
	FECGroupSize int
	// FECProtectionFactor, FECNumImportant and FECUnequalProtection form
	// the fec.Params passed to every FEC encode pass.
	FECProtectionFactor  uint8
	FECNumImportant      int
	FECUnequalProtection bool

	// Logger receives rate-limited warnings (spec.md §7), e.g. skipped
	// malformed compound-RTCP members. Defaults to log.Default().
	Logger *log.Logger
}

// DefaultConfig returns a Config with every default spec.md §6 names
// applied.
func DefaultConfig() Config {
	return Config{
		RTCPMode:             rtcpsender.ModeCompound,
		RTCPReportIntervalMs: 1000,
		MaxRTPPacketSize:     egress.DefaultConfig().MaxRTPPacketSize,
		PacingBitrateBps:     1_000_000,
		HistoryCapacity:      1024,
		FECGroupSize:         8,
		RTXPayloadTypeMap:    map[uint8]uint8{},
		ClockRate:            map[uint8]uint32{},
		Logger:               log.Default(),
	}
}
