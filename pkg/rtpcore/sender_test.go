package rtpcore

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtcore/pkg/clock"
	"github.com/arzzra/rtcore/pkg/rtcp"
	"github.com/arzzra/rtcore/pkg/rtppkt"
)

type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) Send(payload []byte, dscp int) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	f.sent = append(f.sent, buf)
	return nil
}

func newTestSender(t *testing.T, cfg Config) (*Sender, *fakeTransport, *clock.Simulated) {
	t.Helper()
	tr := &fakeTransport{}
	clk := clock.NewSimulated(time.Now())
	s, err := NewSender(cfg, clk, tr, prometheus.NewRegistry(), "test-cname")
	require.NoError(t, err)
	return s, tr, clk
}

func baseConfig() Config {
	cfg := DefaultConfig()
	cfg.LocalMediaSSRC = 0x1111
	cfg.PacingBitrateBps = 10_000_000
	cfg.ClockRate = map[uint8]uint32{96: 90000}
	return cfg
}

func TestEnqueueMediaIsSentAfterPacerDrain(t *testing.T) {
	s, tr, clk := newTestSender(t, baseConfig())
	s.EnqueueMedia(96, 1000, true, []byte("payload"), true, time.Time{}, 0)

	clk.Advance(10 * time.Millisecond)
	s.drainPacer()

	require.Len(t, tr.sent, 1)
	pkt, err := rtppkt.Parse(tr.sent[0])
	require.NoError(t, err)
	require.Equal(t, uint32(0x1111), pkt.SSRC)
	require.Equal(t, uint8(96), pkt.PayloadType)
}

func TestNackTriggersRetransmission(t *testing.T) {
	cfg := baseConfig()
	rtx := uint32(0x2222)
	cfg.RTXSendSSRC = &rtx
	cfg.RTXPayloadTypeMap = map[uint8]uint8{96: 97}

	s, tr, clk := newTestSender(t, cfg)
	s.EnqueueMedia(96, 1000, false, []byte("abc"), false, time.Time{}, 0)
	clk.Advance(time.Millisecond)
	s.drainPacer()
	require.Len(t, tr.sent, 1)

	sent, err := rtppkt.Parse(tr.sent[0])
	require.NoError(t, err)

	s.onNack(0, cfg.LocalMediaSSRC, []rtcp.NackItem{{PID: sent.SequenceNumber}})
	clk.Advance(time.Millisecond)
	s.drainPacer()

	require.Len(t, tr.sent, 2)
	rtxPkt, err := rtppkt.Parse(tr.sent[1])
	require.NoError(t, err)
	require.Equal(t, rtx, rtxPkt.SSRC)
	require.Equal(t, uint8(97), rtxPkt.PayloadType)
}

func TestBuildReportProducesSenderReport(t *testing.T) {
	s, _, _ := newTestSender(t, baseConfig())
	s.EnqueueMedia(96, 1000, false, []byte("abc"), false, time.Time{}, 0)
	s.drainPacer()

	pkt := s.buildReport()
	sr, ok := pkt.(*rtcp.SenderReport)
	require.True(t, ok)
	require.Equal(t, s.cfg.LocalMediaSSRC, sr.SSRC)
	require.Equal(t, uint32(1), sr.PacketCount)
}

func TestBuildSDESCarriesCNAME(t *testing.T) {
	s, _, _ := newTestSender(t, baseConfig())
	pkt := s.buildSDES()
	sdes, ok := pkt.(*rtcp.SourceDescription)
	require.True(t, ok)
	require.Equal(t, []byte("test-cname"), sdes.Chunks[0].Items[0].Text)
}

func TestOnRTPReceivedTracksRemoteStream(t *testing.T) {
	s, _, clk := newTestSender(t, baseConfig())
	s.OnRTPReceived(0x3333, 10, 90000, clk.Now(), 90000)
	s.OnRTPReceived(0x3333, 11, 93000, clk.Now().Add(10*time.Millisecond), 90000)

	require.Contains(t, s.remotes, uint32(0x3333))
	pkt := s.buildReport()
	sr := pkt.(*rtcp.SenderReport)
	require.Len(t, sr.ReportBlocks, 1)
	require.Equal(t, uint32(0x3333), sr.ReportBlocks[0].SSRC)
}

func TestFecGroupProducesProtectionPacket(t *testing.T) {
	cfg := baseConfig()
	fecSSRC := uint32(0x4444)
	cfg.FlexFECSSRC = &fecSSRC
	cfg.FECGroupSize = 2
	cfg.FECProtectionFactor = 255
	cfg.FECPayloadType = 120
	// TSN assignment writes a header extension into each media packet
	// before it reaches the FEC group; protection must cover it.
	cfg.TransportSeqExtID = 5

	s, tr, clk := newTestSender(t, cfg)
	s.EnqueueMedia(96, 1000, false, []byte("abc"), false, time.Time{}, 0)
	s.EnqueueMedia(96, 1000, false, []byte("def"), false, time.Time{}, 0)

	for i := 0; i < 3; i++ {
		clk.Advance(time.Millisecond)
		s.drainPacer()
	}

	var sawFEC bool
	for _, buf := range tr.sent {
		pkt, err := rtppkt.Parse(buf)
		require.NoError(t, err)
		if pkt.SSRC == fecSSRC {
			sawFEC = true
		}
	}
	require.True(t, sawFEC)
}
