package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyDemuxesByVersionAndPayloadType(t *testing.T) {
	rtp := []byte{0x80, 96, 0, 0}
	rtcp := []byte{0x80, 200, 0, 0}
	other := []byte{0x16, 0xFE, 0, 0} // DTLS handshake content-type byte
	require.Equal(t, KindRTP, Classify(rtp))
	require.Equal(t, KindRTCP, Classify(rtcp))
	require.Equal(t, KindDTLSOrSTUN, Classify(other))
	require.Equal(t, KindUnknown, Classify([]byte{0x80}))
}

func TestUDPSendReceiveRoundTrip(t *testing.T) {
	server, err := NewUDP(Config{LocalAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer server.Close()

	client, err := NewUDP(Config{LocalAddr: "127.0.0.1:0", RemoteAddr: server.LocalAddr().String()})
	require.NoError(t, err)
	defer client.Close()

	payload := []byte{0x80, 96, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}
	require.NoError(t, client.Send(payload, DSCPDefault))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, _, err := server.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestSendFailsWithoutRemoteAddr(t *testing.T) {
	conn, err := NewUDP(Config{LocalAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer conn.Close()
	require.Error(t, conn.Send([]byte{1, 2, 3}, DSCPDefault))
}

func TestCloseMarksInactive(t *testing.T) {
	conn, err := NewUDP(Config{LocalAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.True(t, conn.IsActive())
	require.NoError(t, conn.Close())
	require.False(t, conn.IsActive())
}
