// Package rtcpsender implements RtcpSender (spec.md §4.7): the
// scheduler that decides which RTCP kinds to emit at each deadline and
// drives pkg/rtcp's CompoundBuilder, with jittered interval
// computation.
//
// Grounded on the teacher's RTCPSession (pkg/rtp/rtcp_session.go) for
// the interval/bandwidth bookkeeping. The per-kind flags map still
// carries which report types are due, but github.com/looplab/fsm's
// idle/pending machine — the same library the teacher uses for its SIP
// dialog state machine (pkg/dialog/dialog.go) — is the actual gate on
// Build: it does nothing outside the "pending" state, and the machine
// only re-enters "pending" while a flag is still outstanding.
package rtcpsender

import (
	"context"
	"math/rand"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/rtcore/pkg/rtcp"
)

// Kind enumerates the RTCP report kinds the scheduler can be asked to
// emit.
type Kind int

const (
	KindReport Kind = iota // SR or RR, chosen by whether the stream is sending
	KindSDES
	KindBye
	KindPLI
	KindFIR
	KindXR
)

// Mode gates whether send_rtcp is allowed to short-circuit (spec.md
// §4.7).
type Mode int

const (
	ModeCompound Mode = iota
	ModeReduced
	ModeOff
)

const (
	defaultVideoBaseInterval = 1000 * time.Millisecond
	defaultAudioBaseInterval = 5000 * time.Millisecond
)

// Builders supplies the per-kind packet construction callbacks the
// scheduler invokes while assembling a compound packet.
type Builders struct {
	BuildReport func() rtcp.Packet
	BuildSDES   func() rtcp.Packet
	BuildBye    func() *rtcp.Bye
	BuildPLI    func() rtcp.Packet
	BuildFIR    func() rtcp.Packet
	BuildXR     func() rtcp.Packet
}

// flag is one pending-report bit. Volatile flags (BYE, PLI, FIR) clear
// immediately after a build; sticky flags (report, SDES) persist across
// builds until explicitly requested again is unnecessary — they are
// simply always eligible once scheduled.
type flag struct {
	pending  bool
	volatile bool
}

// Scheduler is RtcpSender.
type Scheduler struct {
	Mode           Mode
	Audio          bool
	BaseIntervalMs int64
	Builders       Builders
	Compound       *rtcp.CompoundBuilder

	machine *fsm.FSM
	flags   map[Kind]*flag
	rng     *rand.Rand
}

// New creates a Scheduler. ready is invoked for every flushed compound
// RTCP datagram.
func New(ready rtcp.ReadyFunc, audio bool) *Scheduler {
	base := defaultVideoBaseInterval
	if audio {
		base = defaultAudioBaseInterval
	}
	s := &Scheduler{
		Audio:          audio,
		BaseIntervalMs: base.Milliseconds(),
		Compound:       rtcp.NewCompoundBuilder(ready),
		flags: map[Kind]*flag{
			KindReport: {volatile: false},
			KindSDES:   {volatile: false},
			KindBye:    {volatile: true},
			KindPLI:    {volatile: true},
			KindFIR:    {volatile: true},
			KindXR:     {volatile: false},
		},
		rng: rand.New(rand.NewSource(1)),
	}
	s.machine = fsm.NewFSM(
		"idle",
		fsm.Events{
			{Name: "request", Src: []string{"idle", "pending"}, Dst: "pending"},
			{Name: "build", Src: []string{"pending"}, Dst: "idle"},
		},
		fsm.Callbacks{},
	)
	return s
}

// RequestSend marks kind as pending for the next build (spec.md §4.7:
// "sets the kind's flag as volatile" — request always schedules an
// immediate opportunity to send regardless of the flag's own
// volatile/sticky classification).
func (s *Scheduler) RequestSend(kind Kind) {
	if s.Mode == ModeOff {
		return
	}
	s.flags[kind].pending = true
	_ = s.machine.Event(context.Background(), "request")
}

// reportOrder is the deterministic iteration order a build walks the
// flags in. BYE's position here only controls when its builder runs;
// CompoundBuilder.Add's own BYE handling moves the packet to the end
// of whichever fragment it lands in regardless.
var reportOrder = []Kind{KindReport, KindSDES, KindXR, KindPLI, KindFIR, KindBye}

// Build assembles and flushes a compound packet from every currently
// pending flag, in deterministic order, clearing volatile flags
// afterward. Returns the jittered delay until the scheduler should next
// be given an opportunity to build (spec.md §4.7).
//
// The machine gates the whole method: Build does nothing unless a prior
// RequestSend moved it into "pending". Since sticky flags (report, SDES,
// XR) never clear, syncMachine re-fires "request" whenever one is still
// pending after a build, so the machine stays in "pending" for as long
// as there's sticky work outstanding and only falls back to "idle" once
// a build drains every flag.
func (s *Scheduler) Build(sendBitrateKbps int) (time.Duration, error) {
	if s.Mode == ModeOff || s.machine.Current() != "pending" {
		return s.nextInterval(sendBitrateKbps), nil
	}
	for _, kind := range reportOrder {
		f := s.flags[kind]
		if !f.pending {
			continue
		}
		pkt := s.buildKind(kind)
		if pkt != nil {
			if err := s.Compound.Add(pkt); err != nil {
				return 0, err
			}
		}
		if f.volatile {
			f.pending = false
		}
	}
	if err := s.Compound.Flush(); err != nil {
		return 0, err
	}
	s.syncMachine()
	return s.nextInterval(sendBitrateKbps), nil
}

// syncMachine drives the machine back to "idle" once every flag has
// drained, or keeps it at "pending" when a sticky flag survived the
// build.
func (s *Scheduler) syncMachine() {
	for _, f := range s.flags {
		if f.pending {
			_ = s.machine.Event(context.Background(), "request")
			return
		}
	}
	_ = s.machine.Event(context.Background(), "build")
}

func (s *Scheduler) buildKind(kind Kind) rtcp.Packet {
	switch kind {
	case KindReport:
		if s.Builders.BuildReport != nil {
			return s.Builders.BuildReport()
		}
	case KindSDES:
		if s.Builders.BuildSDES != nil {
			return s.Builders.BuildSDES()
		}
	case KindBye:
		if s.Builders.BuildBye != nil {
			return s.Builders.BuildBye()
		}
	case KindPLI:
		if s.Builders.BuildPLI != nil {
			return s.Builders.BuildPLI()
		}
	case KindFIR:
		if s.Builders.BuildFIR != nil {
			return s.Builders.BuildFIR()
		}
	case KindXR:
		if s.Builders.BuildXR != nil {
			return s.Builders.BuildXR()
		}
	}
	return nil
}

// nextInterval computes a uniformly random draw in [½, 3⁄2] ×
// min(base-interval, 360000/send-bitrate-kbps), never zero (spec.md
// §4.7).
func (s *Scheduler) nextInterval(sendBitrateKbps int) time.Duration {
	base := s.BaseIntervalMs
	if sendBitrateKbps > 0 {
		bwBound := int64(360000 / sendBitrateKbps)
		if bwBound < base {
			base = bwBound
		}
	}
	if base <= 0 {
		base = 1
	}
	low := float64(base) * 0.5
	high := float64(base) * 1.5
	jittered := low + s.rng.Float64()*(high-low)
	d := time.Duration(jittered) * time.Millisecond
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}
