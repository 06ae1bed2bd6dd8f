package feedback

import (
	"testing"
	"time"

	"github.com/arzzra/rtcore/pkg/rtcp"
	"github.com/stretchr/testify/require"
)

func identity(seq uint16) uint64 { return uint64(seq) }

func TestAddPacketAndProcessSentTracksInFlight(t *testing.T) {
	s := New()
	now := time.Now()
	s.AddPacket(1, 1200, 0, now)
	require.EqualValues(t, 0, s.InFlightBytes())

	s.ProcessSent(1, now, false)
	require.EqualValues(t, 1200, s.InFlightBytes())
}

func TestProcessSentRetransmitDoesNotAddInFlight(t *testing.T) {
	s := New()
	now := time.Now()
	s.AddPacket(5, 500, 0, now)
	s.ProcessSent(5, now, true)
	require.EqualValues(t, 0, s.InFlightBytes())
}

func TestProcessFeedbackResolvesReceivedAndDeductsInFlight(t *testing.T) {
	s := New()
	now := time.Now()
	s.AddPacket(1, 100, 0, now)
	s.AddPacket(2, 100, 0, now)
	s.ProcessSent(1, now, false)
	s.ProcessSent(2, now, false)
	require.EqualValues(t, 200, s.InFlightBytes())

	fb := &rtcp.TransportFeedback{
		BaseSequenceNumber: 1,
		Statuses: []rtcp.PacketStatus{
			{Received: true, DeltaTicks: 4},
			{Received: true, DeltaTicks: 4},
		},
	}
	out := s.ProcessFeedback(fb, now.Add(10*time.Millisecond), identity)
	require.Len(t, out.Results, 2)
	require.EqualValues(t, 0, out.InFlightBytes)
}

func TestProcessFeedbackDropsUnknownRecord(t *testing.T) {
	s := New()
	fb := &rtcp.TransportFeedback{
		BaseSequenceNumber: 99,
		Statuses:           []rtcp.PacketStatus{{Received: true, DeltaTicks: 1}},
	}
	out := s.ProcessFeedback(fb, time.Now(), identity)
	require.Empty(t, out.Results)
	require.Equal(t, 1, out.Dropped)
}

func TestProcessFeedbackAnomalousWhenNotYetSent(t *testing.T) {
	s := New()
	now := time.Now()
	s.AddPacket(1, 100, 0, now)
	// never call ProcessSent
	fb := &rtcp.TransportFeedback{
		BaseSequenceNumber: 1,
		Statuses:           []rtcp.PacketStatus{{Received: true, DeltaTicks: 1}},
	}
	out := s.ProcessFeedback(fb, now, identity)
	require.Empty(t, out.Results)
	require.Equal(t, 1, out.Anomalous)
}

func TestLostPacketsRemainForLaterUpgrade(t *testing.T) {
	s := New()
	now := time.Now()
	s.AddPacket(1, 100, 0, now)
	s.ProcessSent(1, now, false)

	fb1 := &rtcp.TransportFeedback{BaseSequenceNumber: 1, Statuses: []rtcp.PacketStatus{{Received: false}}}
	out1 := s.ProcessFeedback(fb1, now.Add(5*time.Millisecond), identity)
	require.Empty(t, out1.Results)

	fb2 := &rtcp.TransportFeedback{BaseSequenceNumber: 1, Statuses: []rtcp.PacketStatus{{Received: true, DeltaTicks: 2}}}
	out2 := s.ProcessFeedback(fb2, now.Add(20*time.Millisecond), identity)
	require.Len(t, out2.Results, 1)
}
