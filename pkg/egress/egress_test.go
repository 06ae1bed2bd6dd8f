package egress

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtcore/pkg/clock"
	"github.com/arzzra/rtcore/pkg/feedback"
	"github.com/arzzra/rtcore/pkg/metrics"
	"github.com/arzzra/rtcore/pkg/rtppkt"
)

type fakeTransport struct {
	sent    [][]byte
	dscps   []int
	failNext bool
}

func (f *fakeTransport) Send(payload []byte, dscp int) error {
	if f.failNext {
		f.failNext = false
		return errFakeSend
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	f.sent = append(f.sent, buf)
	f.dscps = append(f.dscps, dscp)
	return nil
}

var errFakeSend = &fakeErr{"fake transport failure"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func newTestEgress(t *testing.T) (*Egress, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	reg := metrics.NewRegistry(prometheus.NewRegistry(), 1)
	stat := feedback.New()
	clk := clock.NewSimulated(time.Now())
	identity := Identity{MediaSSRC: 1, RTXPayloadType: map[uint8]uint8{111: 112}}
	e := New(identity, DefaultConfig(), clk, tr, reg, stat)
	return e, tr
}

func basicPacket(ssrc uint32, seq uint16) *rtppkt.Packet {
	p := rtppkt.New()
	p.PayloadType = 111
	p.SequenceNumber = seq
	p.Timestamp = 1000
	p.SSRC = ssrc
	p.SetPayload([]byte("hello"))
	return p
}

func TestSendRejectsUnregisteredSSRC(t *testing.T) {
	e, _ := newTestEgress(t)
	err := e.Send(basicPacket(99, 1), SendMeta{SSRC: 99, Class: metrics.ClassMedia})
	require.ErrorIs(t, err, ErrSSRCMismatch)
}

func TestSendDeliversToTransport(t *testing.T) {
	e, tr := newTestEgress(t)
	err := e.Send(basicPacket(1, 1), SendMeta{SSRC: 1, Class: metrics.ClassMedia})
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)
}

func TestSendRejectsOversizePacket(t *testing.T) {
	e, _ := newTestEgress(t)
	e.Config.MaxRTPPacketSize = 16
	err := e.Send(basicPacket(1, 1), SendMeta{SSRC: 1, Class: metrics.ClassMedia})
	require.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestSendAssignsTransportSequenceNumberAndFeeds(t *testing.T) {
	e, tr := newTestEgress(t)
	e.Config.TransportSeqExtID = 5

	pkt := basicPacket(1, 1)
	require.NoError(t, e.Send(pkt, SendMeta{SSRC: 1, Class: metrics.ClassMedia}))
	require.Equal(t, int64(len(tr.sent[0])), e.Feedback.InFlightBytes())

	pkt2 := basicPacket(1, 2)
	require.NoError(t, e.Send(pkt2, SendMeta{SSRC: 1, Class: metrics.ClassMedia}))
	require.Greater(t, e.Feedback.InFlightBytes(), int64(0))
}

func TestSendTracksDelayWhenCaptureTimeSet(t *testing.T) {
	e, _ := newTestEgress(t)
	capture := e.Clock.Now().Add(-20 * time.Millisecond)
	require.NoError(t, e.Send(basicPacket(1, 1), SendMeta{SSRC: 1, Class: metrics.ClassMedia, CaptureTime: capture}))

	avg, _, _ := e.DelayStats()
	require.GreaterOrEqual(t, avg, 20*time.Millisecond)
}

func TestSendBitrateReflectsRecentTraffic(t *testing.T) {
	e, _ := newTestEgress(t)
	now := e.Clock.(*clock.Simulated).Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Send(basicPacket(1, uint16(i)), SendMeta{SSRC: 1, Class: metrics.ClassMedia}))
	}
	require.Greater(t, e.SendBitrate(metrics.ClassMedia, now), int64(0))
}
