package bitio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint24RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 0x7FFFFF, 0x800000, 0xFFFFFF}
	for _, v := range cases {
		b := make([]byte, 3)
		PutUint24(b, v)
		require.Equal(t, v, Uint24(b))
	}
}

func TestInt24SignExtension(t *testing.T) {
	cases := []int32{0, 1, -1, 0x7FFFFF, -0x800000, -12345}
	for _, v := range cases {
		b := make([]byte, 3)
		PutInt24(b, v)
		require.Equal(t, v, Int24(b))
	}
}

func TestUint48RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 0xFFFFFFFFFFFF, 0x800000000000, 0x123456789ABC}
	for _, v := range cases {
		b := make([]byte, 6)
		PutUint48(b, v)
		require.Equal(t, v, Uint48(b))
	}
}

func TestInt16RoundTrip(t *testing.T) {
	cases := []int16{0, 1, -1, 32767, -32768}
	for _, v := range cases {
		b := make([]byte, 2)
		PutInt16(b, v)
		require.Equal(t, v, Int16(b))
	}
}

func TestUint24IsBigEndian(t *testing.T) {
	b := make([]byte, 3)
	PutUint24(b, 0x010203)
	require.Equal(t, []byte{1, 2, 3}, b)
}
