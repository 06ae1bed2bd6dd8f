package seqnum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnwrapMonotonicWithoutWrap(t *testing.T) {
	var u Unwrapper
	require.EqualValues(t, 10, u.Unwrap(10))
	require.EqualValues(t, 11, u.Unwrap(11))
	require.EqualValues(t, 500, u.Unwrap(500))
}

func TestUnwrapForwardWrap(t *testing.T) {
	var u Unwrapper
	u.Unwrap(0xFFFE)
	u.Unwrap(0xFFFF)
	require.EqualValues(t, 0x10000, u.Unwrap(0))
	require.EqualValues(t, 0x10001, u.Unwrap(1))
}

func TestUnwrapReorderedAcrossWrap(t *testing.T) {
	var u Unwrapper
	u.Unwrap(0xFFFF)
	require.EqualValues(t, 0x10000, u.Unwrap(0))
	// A late arrival from before the wrap maps back into the old cycle.
	require.EqualValues(t, 0xFFFE, u.Unwrap(0xFFFE))
	// Highest is unaffected by the stragglers.
	require.EqualValues(t, 0x10000, u.Highest())
}

func TestUnwrapMultipleWraps(t *testing.T) {
	var u Unwrapper
	seq := uint16(0)
	var last uint64
	for i := 0; i < 5*65536; i += 4096 {
		v := u.Unwrap(seq)
		require.GreaterOrEqual(t, v, last)
		last = v
		seq += 4096
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	var u Unwrapper
	u.Unwrap(100)
	require.EqualValues(t, 101, u.Peek(101))
	require.EqualValues(t, 100, u.Highest())
}
