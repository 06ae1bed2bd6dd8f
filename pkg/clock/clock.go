// Package clock provides the monotonic microsecond/NTP time source
// spec.md §2 calls for, plus a Simulated variant that drives deterministic
// tests the way original_source's pacer unit test drives its fake clock
// (task_queue_paced_sender_unittest.cpp). Grounded on the teacher's
// NTPTimestamp/NTPTimestampToTime helpers (pkg/rtp/rtcp.go), pulled out of
// the RTCP package into their own abstraction.
package clock

import (
	"sync"
	"time"
)

// ntpEpoch is 1900-01-01 UTC, the NTP time origin.
var ntpEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock yields a monotonic microsecond timestamp and 64-bit NTP time.
type Clock interface {
	// NowMicros returns a monotonically increasing microsecond timestamp.
	// Only differences between calls are meaningful.
	NowMicros() int64
	// NowNTP returns the current time as a 64-bit NTP timestamp: high 32
	// bits are seconds since 1900-01-01 UTC, low 32 bits a binary
	// fraction of a second.
	NowNTP() uint64
	// Now returns the current wall-clock time.
	Now() time.Time
}

// System is the real wall-clock implementation.
type System struct{}

// systemStart anchors System.NowMicros; time.Since uses the monotonic
// reading carried by time.Now, so wall-clock steps do not affect it.
var systemStart = time.Now()

// NowMicros implements Clock.
func (System) NowMicros() int64 { return time.Since(systemStart).Microseconds() }

// NowNTP implements Clock.
func (System) NowNTP() uint64 { return ToNTP(time.Now()) }

// Now implements Clock.
func (System) Now() time.Time { return time.Now() }

// ToNTP converts a time.Time to a 64-bit NTP timestamp.
func ToNTP(t time.Time) uint64 {
	d := t.Sub(ntpEpoch)
	seconds := uint64(d / time.Second)
	frac := uint64(d%time.Second) * (1 << 32) / uint64(time.Second)
	return seconds<<32 | frac
}

// FromNTP converts a 64-bit NTP timestamp to a time.Time.
func FromNTP(ntp uint64) time.Time {
	seconds := int64(ntp >> 32)
	frac := int64(ntp & 0xFFFFFFFF)
	nanos := (frac * int64(time.Second)) >> 32
	return ntpEpoch.Add(time.Duration(seconds)*time.Second + time.Duration(nanos))
}

// CompactNTP keeps the middle 32 bits of a 64-bit NTP timestamp: the low
// 16 bits of seconds and the high 16 bits of the fraction. Used by SR's
// last-SR field and DLRR sub-blocks.
func CompactNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// Simulated is a manually-advanced Clock for deterministic tests. The zero
// value starts at time.Time{} (January 1, year 1, UTC).
type Simulated struct {
	mu  sync.Mutex
	now time.Time
}

// NewSimulated returns a Simulated clock starting at t.
func NewSimulated(t time.Time) *Simulated {
	return &Simulated{now: t}
}

// Advance moves the simulated clock forward by d.
func (s *Simulated) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

// NowMicros implements Clock.
func (s *Simulated) NowMicros() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now.UnixMicro()
}

// NowNTP implements Clock.
func (s *Simulated) NowNTP() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ToNTP(s.now)
}

// Now implements Clock.
func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}
