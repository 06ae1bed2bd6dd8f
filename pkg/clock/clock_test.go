package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNTPRoundTrip(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 30, 45, 500_000_000, time.UTC)
	ntp := ToNTP(at)
	back := FromNTP(ntp)
	require.WithinDuration(t, at, back, time.Microsecond)
}

func TestNTPEpoch(t *testing.T) {
	require.EqualValues(t, 0, ToNTP(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNTPHalfSecondFraction(t *testing.T) {
	at := time.Date(2000, 1, 1, 0, 0, 0, 500_000_000, time.UTC)
	ntp := ToNTP(at)
	require.EqualValues(t, 1<<31, ntp&0xFFFFFFFF)
}

func TestCompactNTPKeepsMiddleBits(t *testing.T) {
	ntp := uint64(0x1122334455667788)
	require.EqualValues(t, 0x33445566, CompactNTP(ntp))
}

func TestSimulatedAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewSimulated(start)
	require.Equal(t, start, clk.Now())

	clk.Advance(250 * time.Millisecond)
	require.Equal(t, start.Add(250*time.Millisecond), clk.Now())
	require.Equal(t, start.Add(250*time.Millisecond).UnixMicro(), clk.NowMicros())
}

func TestSystemMonotonicMicros(t *testing.T) {
	clk := System{}
	a := clk.NowMicros()
	b := clk.NowMicros()
	require.GreaterOrEqual(t, b, a)
}
