package fec

import (
	"testing"

	"github.com/arzzra/rtcore/pkg/rtppkt"
	"github.com/stretchr/testify/require"
)

func buildMedia(n int, ssrc uint32, baseSeq uint16) []*rtppkt.Packet {
	pkts := make([]*rtppkt.Packet, n)
	for i := 0; i < n; i++ {
		p := rtppkt.New()
		p.PayloadType = 96
		p.SequenceNumber = baseSeq + uint16(i)
		p.Timestamp = 90000 + uint32(i)*3000
		p.SSRC = ssrc
		p.Marker = i == n-1
		p.SetPayload([]byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)})
		pkts[i] = p
	}
	return pkts
}

func TestEncodeProducesOneFecRowWithFullProtection(t *testing.T) {
	media := buildMedia(5, 0xAAAA, 100)
	fecPkts, err := Encode(media, Params{NumImportantPackets: 5})
	require.NoError(t, err)
	require.Len(t, fecPkts, 1)
	require.NotEmpty(t, fecPkts[0].Payload())
}

func TestEncodeDisabledWhenNoProtection(t *testing.T) {
	media := buildMedia(3, 1, 0)
	fecPkts, err := Encode(media, Params{})
	require.NoError(t, err)
	require.Nil(t, fecPkts)
}

func TestDecoderRecoversSingleMissingPacket(t *testing.T) {
	media := buildMedia(4, 0xBEEF, 1000)
	fecPkts, err := Encode(media, Params{NumImportantPackets: 4})
	require.NoError(t, err)
	require.Len(t, fecPkts, 1)

	dec := NewDecoder(64)
	// simulate losing media[2]
	for i, m := range media {
		if i == 2 {
			continue
		}
		dec.OnMediaPacket(m.SequenceNumber, m)
	}
	recovered, err := dec.OnFecPacket(2000, fecPkts[0].Payload())
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	require.Equal(t, media[2].SequenceNumber, recovered[0].SequenceNumber)
	require.Equal(t, media[2].SSRC, recovered[0].SSRC)
	require.Equal(t, media[2].Timestamp, recovered[0].Timestamp)
	require.Equal(t, media[2].Payload(), recovered[0].Payload())
}

// TestDecoderRecoversPacketWithExtensionsAndCSRC loses a packet that
// carries a CSRC and a transport-sequence-number-style header
// extension: the protected region spans everything past the fixed RTP
// header, so recovery must reproduce the wire image byte for byte,
// extensions and CSRCs included.
func TestDecoderRecoversPacketWithExtensionsAndCSRC(t *testing.T) {
	media := make([]*rtppkt.Packet, 4)
	for i := range media {
		p := rtppkt.New()
		p.PayloadType = 96
		p.SequenceNumber = 200 + uint16(i)
		p.Timestamp = 3000 * uint32(i+1)
		p.SSRC = 0xC0DE
		require.NoError(t, p.AddCSRC(0x5150+uint32(i)))
		ext, err := p.AllocateExtension(5, 2)
		require.NoError(t, err)
		ext[0] = byte(i >> 8)
		ext[1] = byte(i)
		p.SetPayload([]byte{byte(i), byte(i * 3), byte(i * 7)})
		media[i] = p
	}

	fecPkts, err := Encode(media, Params{NumImportantPackets: 4})
	require.NoError(t, err)
	require.Len(t, fecPkts, 1)

	dec := NewDecoder(64)
	for i, m := range media {
		if i == 1 {
			continue
		}
		dec.OnMediaPacket(m.SequenceNumber, m)
	}
	recovered, err := dec.OnFecPacket(3000, fecPkts[0].Payload())
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	want, err := media[1].Marshal()
	require.NoError(t, err)
	got, err := recovered[0].Marshal()
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, media[1].CSRCs, recovered[0].CSRCs)
	ext, ok := recovered[0].Extension(5)
	require.True(t, ok)
	require.Equal(t, []byte{0, 1}, ext)
}

// TestLBitSelectionByMediaCount is S6: 8 protected media packets pack
// a 2-byte mask with the L bit clear; 21 packets need the 6-byte mask
// with the L bit set.
func TestLBitSelectionByMediaCount(t *testing.T) {
	small := buildMedia(8, 1, 0)
	fecSmall, err := Encode(small, Params{NumImportantPackets: 8})
	require.NoError(t, err)
	require.Len(t, fecSmall, 1)
	payloadSmall := fecSmall[0].Payload()
	require.Zero(t, payloadSmall[0]&0x40, "L bit should be clear for 8 media packets")
	require.Equal(t, fecHeaderSizeLBitClear, headerSizeOf(payloadSmall))

	large := buildMedia(21, 1, 0)
	fecLarge, err := Encode(large, Params{NumImportantPackets: 21})
	require.NoError(t, err)
	require.Len(t, fecLarge, 1)
	payloadLarge := fecLarge[0].Payload()
	require.NotZero(t, payloadLarge[0]&0x40, "L bit should be set for 21 media packets")
	require.Equal(t, fecHeaderSizeLBitSet, headerSizeOf(payloadLarge))
}

// headerSizeOf recovers the FEC header size (level-0 + level-1) from a
// marshaled row by reading the L bit, the way a decoder picks the mask
// length.
func headerSizeOf(payload []byte) int {
	if payload[0]&0x40 != 0 {
		return fecHeaderSizeLBitSet
	}
	return fecHeaderSizeLBitClear
}

func TestDecoderNoRecoveryWhenTwoMissing(t *testing.T) {
	media := buildMedia(4, 1, 0)
	fecPkts, err := Encode(media, Params{NumImportantPackets: 4})
	require.NoError(t, err)

	dec := NewDecoder(64)
	dec.OnMediaPacket(media[0].SequenceNumber, media[0])
	dec.OnMediaPacket(media[1].SequenceNumber, media[1])
	// media[2] and media[3] both missing
	recovered, err := dec.OnFecPacket(50, fecPkts[0].Payload())
	require.NoError(t, err)
	require.Empty(t, recovered)
}
