package pacer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtcore/pkg/clock"
)

// TestPaceMatchedRateSpreadsReleases is S1: pacing 42 1234-byte video
// packets at exactly the bitrate they require should spread their
// release across roughly one second, not release them all at once.
func TestPaceMatchedRateSpreadsReleases(t *testing.T) {
	const n = 42
	const size = 1234
	bitrate := int64(n) * size * 8 // bits/s, matched to the load

	clk := clock.NewSimulated(time.Now())
	s := New(clk, bitrate)

	for i := 0; i < n; i++ {
		s.Enqueue(&QueuedPacket{Priority: PriorityVideo, Size: size, EnqueueTime: clk.Now()})
	}

	var releaseTimes []time.Time
	step := time.Millisecond
	start := clk.Now()
	for clk.Now().Sub(start) <= 1100*time.Millisecond {
		for range s.Process(clk.Now()) {
			releaseTimes = append(releaseTimes, clk.Now())
		}
		clk.Advance(step)
	}

	require.Len(t, releaseTimes, n)
	span := releaseTimes[len(releaseTimes)-1].Sub(releaseTimes[0])
	require.GreaterOrEqual(t, span, 950*time.Millisecond)
	require.LessOrEqual(t, span, 1050*time.Millisecond)
}

// TestRescheduleOnBitrateChange is S2: doubling the rate after the
// second of three packets is released should shrink the gap between
// packets 2 and 3 to 100ms.
func TestRescheduleOnBitrateChange(t *testing.T) {
	const size = 1
	// 5 pkt/s at 1 byte each -> 40 bits/s.
	clk := clock.NewSimulated(time.Now())
	s := New(clk, 40)

	for i := 0; i < 3; i++ {
		s.Enqueue(&QueuedPacket{Priority: PriorityVideo, Size: size, EnqueueTime: clk.Now()})
	}

	var releaseTimes []time.Time
	step := time.Millisecond
	doubled := false
	start := clk.Now()
	for len(releaseTimes) < 3 && clk.Now().Sub(start) < 2*time.Second {
		for range s.Process(clk.Now()) {
			releaseTimes = append(releaseTimes, clk.Now())
			if len(releaseTimes) == 2 && !doubled {
				s.SetBitrate(80)
				doubled = true
			}
		}
		clk.Advance(step)
	}

	require.Len(t, releaseTimes, 3)
	gap := releaseTimes[2].Sub(releaseTimes[1])
	require.InDelta(t, float64(100*time.Millisecond), float64(gap), float64(time.Millisecond))
}

// TestAudioPreemptsVideo is S3: an audio packet enqueued while video is
// still waiting on budget must be released ahead of any further video,
// even though the video packet has been queued longer.
func TestAudioPreemptsVideo(t *testing.T) {
	clk := clock.NewSimulated(time.Now())
	s := New(clk, 125_000) // 125 kbit/s -> 15625 bytes/s

	const videoSize = 1000 // affordable roughly every 64ms
	for i := 0; i < 10; i++ {
		s.Enqueue(&QueuedPacket{Priority: PriorityVideo, Size: videoSize, EnqueueTime: clk.Now()})
	}

	step := time.Millisecond
	var first []*pkResult
	for len(first) == 0 {
		clk.Advance(step)
		for _, p := range s.Process(clk.Now()) {
			first = append(first, &pkResult{p, clk.Now()})
		}
	}
	require.Len(t, first, 1)
	require.Equal(t, PriorityVideo, first[0].pkt.Priority)

	// advance half a pacing interval (~32ms), then an audio packet
	// arrives while the next video packet is still waiting on budget.
	clk.Advance(32 * time.Millisecond)
	s.Enqueue(&QueuedPacket{Priority: PriorityAudio, Size: 100, EnqueueTime: clk.Now()})

	var second []*pkResult
	for len(second) == 0 {
		clk.Advance(step)
		for _, p := range s.Process(clk.Now()) {
			second = append(second, &pkResult{p, clk.Now()})
		}
	}
	require.Equal(t, PriorityAudio, second[0].pkt.Priority)
}

type pkResult struct {
	pkt *QueuedPacket
	at  time.Time
}

// TestIdlePacerDoesNotBankUnboundedBurst pins the banked-budget cap: a
// long quiet period must be worth at most MaxBurst of send time, so a
// backlog arriving after 10s of silence drains at the pacing rate
// instead of being flushed all at once.
func TestIdlePacerDoesNotBankUnboundedBurst(t *testing.T) {
	clk := clock.NewSimulated(time.Now())
	s := New(clk, 400_000) // 50000 bytes/s; MaxBurst caps the bank at 2000 bytes

	require.Empty(t, s.Process(clk.Now())) // nothing queued yet
	clk.Advance(10 * time.Second)          // idle: would bank 500000 bytes uncapped

	const size = 1000
	for i := 0; i < 10; i++ {
		s.Enqueue(&QueuedPacket{Priority: PriorityVideo, Size: size, EnqueueTime: clk.Now()})
	}
	require.Len(t, s.Process(clk.Now()), 2, "burst after idle must be capped to MaxBurst worth of bytes")

	// The remainder drains at the configured rate, one packet per 20ms.
	clk.Advance(20 * time.Millisecond)
	require.Len(t, s.Process(clk.Now()), 1)
}

func TestNextWakeupReturnsZeroWhenIdle(t *testing.T) {
	clk := clock.NewSimulated(time.Now())
	s := New(clk, 1000)
	require.True(t, s.NextWakeup(clk.Now()).IsZero())
	require.False(t, s.Pending())
}

func TestFecPulledAheadOfVideo(t *testing.T) {
	clk := clock.NewSimulated(time.Now())
	s := New(clk, 1_000_000)
	fecPkt := &QueuedPacket{Priority: PriorityVideo, Size: 10}
	fec := &stubFec{pkt: fecPkt}
	s.Fec = fec

	s.Enqueue(&QueuedPacket{Priority: PriorityVideo, Size: 10})
	clk.Advance(time.Second)
	released := s.Process(clk.Now())
	require.Len(t, released, 2)
	require.Same(t, fecPkt, released[1])
}

// stubFec hands back its one FEC packet the first time it is polled,
// simulating an encoder that became ready right after the first
// release.
type stubFec struct {
	pkt    *QueuedPacket
	polled bool
}

func (s *stubFec) PollReady() []*QueuedPacket {
	if s.polled {
		return nil
	}
	s.polled = true
	return []*QueuedPacket{s.pkt}
}
