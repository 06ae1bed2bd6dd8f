package rtpcore

import (
	"github.com/arzzra/rtcore/pkg/clock"
	"github.com/arzzra/rtcore/pkg/rtcp"
)

// buildReport constructs an outgoing SenderReport: spec.md §4.7
// requires a sender always report via SR (never RR) once it has sent
// at least one packet, carrying a report block per remote stream it is
// receiving.
func (s *Sender) buildReport() rtcp.Packet {
	now := s.clk.Now()
	sr := &rtcp.SenderReport{
		SSRC:        s.cfg.LocalMediaSSRC,
		NTPTime:     clock.ToNTP(now),
		RTPTime:     s.lastTS,
		PacketCount: s.packetCount,
		OctetCount:  s.octetCount,
	}
	for ssrc, rs := range s.remotes {
		stats, ok := s.rtcpRecv.Stats(ssrc)
		lastSR, lastSRRecv := uint32(0), stats.LastSRRecvTime
		if ok {
			lastSR = stats.LastSR
		}
		rb := rs.reportBlock(lastSR, lastSRRecv, now)
		if ok {
			rb.Jitter = uint32(stats.Jitter)
		}
		sr.ReportBlocks = append(sr.ReportBlocks, rb)
	}
	return sr
}

// buildSDES constructs an outgoing SourceDescription carrying the
// sender's CNAME, required on every compound packet (spec.md §4.2).
func (s *Sender) buildSDES() rtcp.Packet {
	return &rtcp.SourceDescription{
		Chunks: []rtcp.SDESChunk{{
			Source: s.cfg.LocalMediaSSRC,
			Items:  []rtcp.SDESItem{{Type: rtcp.SDESCNAME, Text: []byte(s.cname)}},
		}},
	}
}

// buildBye constructs an outgoing BYE for this sender's SSRC(s).
func (s *Sender) buildBye() *rtcp.Bye {
	sources := []uint32{s.cfg.LocalMediaSSRC}
	if s.cfg.RTXSendSSRC != nil {
		sources = append(sources, *s.cfg.RTXSendSSRC)
	}
	if s.cfg.FlexFECSSRC != nil {
		sources = append(sources, *s.cfg.FlexFECSSRC)
	}
	return &rtcp.Bye{Sources: sources}
}

// buildPLI constructs an outgoing picture-loss-indication naming the
// single remote stream this sender is receiving, or nil if none is
// tracked yet.
func (s *Sender) buildPLI() rtcp.Packet {
	for ssrc := range s.remotes {
		return &rtcp.PictureLossIndication{CommonFeedback: rtcp.CommonFeedback{SenderSSRC: s.cfg.LocalMediaSSRC, MediaSSRC: ssrc}}
	}
	return nil
}

// buildFIR constructs an outgoing full-intra-request targeting every
// remote stream this sender is receiving, each with its own
// monotonically incrementing sequence number (RFC 5104 §4.3.1).
func (s *Sender) buildFIR() rtcp.Packet {
	if len(s.remotes) == 0 {
		return nil
	}
	f := &rtcp.FullIntraRequest{CommonFeedback: rtcp.CommonFeedback{SenderSSRC: s.cfg.LocalMediaSSRC}}
	for ssrc := range s.remotes {
		s.firSeq++
		f.Entries = append(f.Entries, rtcp.FIREntry{SSRC: ssrc, SequenceNumber: s.firSeq})
	}
	return f
}
