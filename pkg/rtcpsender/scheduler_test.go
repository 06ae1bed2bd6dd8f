package rtcpsender

import (
	"testing"
	"time"

	"github.com/arzzra/rtcore/pkg/rtcp"
	"github.com/stretchr/testify/require"
)

func TestBuildEmitsPendingFlagsAndClearsVolatile(t *testing.T) {
	var flushed [][]byte
	s := New(func(b []byte) error {
		flushed = append(flushed, b)
		return nil
	}, false)
	s.Builders.BuildReport = func() rtcp.Packet {
		return &rtcp.ReceiverReport{SSRC: 1}
	}
	s.Builders.BuildPLI = func() rtcp.Packet {
		return &rtcp.PictureLossIndication{CommonFeedback: rtcp.CommonFeedback{SenderSSRC: 1, MediaSSRC: 2}}
	}

	s.RequestSend(KindReport)
	s.RequestSend(KindPLI)

	_, err := s.Build(0)
	require.NoError(t, err)
	require.Len(t, flushed, 1)

	pkts, skipped := rtcp.ParseCompound(flushed[0])
	require.Zero(t, skipped)
	require.Len(t, pkts, 2)

	// PLI is volatile and was cleared; Report is sticky and remains
	// pending, so a second build still flushes but with only one
	// member.
	flushed = nil
	_, err = s.Build(0)
	require.NoError(t, err)
	require.Len(t, flushed, 1)
	pkts, skipped = rtcp.ParseCompound(flushed[0])
	require.Zero(t, skipped)
	require.Len(t, pkts, 1)
	require.IsType(t, &rtcp.ReceiverReport{}, pkts[0])
}

func TestByeIsAlwaysLastAndModeOffSuppressesRequests(t *testing.T) {
	var flushed [][]byte
	s := New(func(b []byte) error {
		flushed = append(flushed, b)
		return nil
	}, false)
	s.Builders.BuildReport = func() rtcp.Packet { return &rtcp.ReceiverReport{SSRC: 1} }
	s.Builders.BuildBye = func() *rtcp.Bye { return &rtcp.Bye{Sources: []uint32{1}} }

	s.RequestSend(KindBye)
	s.RequestSend(KindReport)
	_, err := s.Build(0)
	require.NoError(t, err)
	require.Len(t, flushed, 1)

	pkts, skipped := rtcp.ParseCompound(flushed[0])
	require.Zero(t, skipped)
	require.IsType(t, &rtcp.Bye{}, pkts[len(pkts)-1])

	s.Mode = ModeOff
	flushed = nil
	s.RequestSend(KindReport)
	_, err = s.Build(0)
	require.NoError(t, err)
	require.Empty(t, flushed)
}

func TestBuildIsNoOpUntilRequestedAndIdlesOnceDrained(t *testing.T) {
	var flushed [][]byte
	s := New(func(b []byte) error {
		flushed = append(flushed, b)
		return nil
	}, false)
	s.Builders.BuildPLI = func() rtcp.Packet {
		return &rtcp.PictureLossIndication{CommonFeedback: rtcp.CommonFeedback{SenderSSRC: 1, MediaSSRC: 2}}
	}

	require.Equal(t, "idle", s.machine.Current())
	_, err := s.Build(0)
	require.NoError(t, err)
	require.Empty(t, flushed)

	s.RequestSend(KindPLI)
	require.Equal(t, "pending", s.machine.Current())

	_, err = s.Build(0)
	require.NoError(t, err)
	require.Len(t, flushed, 1)
	// PLI is volatile and cleared, so the machine has nothing left
	// outstanding and falls back to idle.
	require.Equal(t, "idle", s.machine.Current())

	flushed = nil
	_, err = s.Build(0)
	require.NoError(t, err)
	require.Empty(t, flushed)
}

func TestNextIntervalIsNeverZeroAndRespectsBandwidthBound(t *testing.T) {
	s := New(func([]byte) error { return nil }, false)
	d := s.nextInterval(0)
	require.Greater(t, d, time.Duration(0))

	// a high bitrate tightens the interval below the 1000ms video base:
	// at 1000 kbps the bound is 360000/1000 = 360ms, so the draw is at
	// most 540ms.
	d2 := s.nextInterval(1000)
	require.Less(t, d2, defaultVideoBaseInterval)
}
