package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/stretchr/testify/require"
)

// pskConfig builds a matching pair of PSK-mode DTLSConfigs: simplest
// handshake path to exercise over a real loopback UDP pair without
// generating X.509 certificates.
func pskConfig() DTLSConfig {
	cfg := DefaultDTLSConfig()
	cfg.HandshakeTimeout = 5 * time.Second
	cfg.CipherSuites = []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_CCM_8}
	cfg.PSKIdentityHint = []byte("rtcore")
	cfg.PSK = func(hint []byte) ([]byte, error) {
		return []byte{0xAB, 0xCD, 0xEF, 0x01}, nil
	}
	return cfg
}

func TestDTLSHandshakeAndRoundTrip(t *testing.T) {
	serverUDP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer serverUDP.Close()

	clientUDP, err := net.DialUDP("udp", nil, serverUDP.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientUDP.Close()

	serverConn, err := net.ListenUDP("udp", nil)
	require.NoError(t, err)
	defer serverConn.Close()

	type serverResult struct {
		conn *DTLSConn
		err  error
	}
	serverCh := make(chan serverResult, 1)
	go func() {
		conn, herr := NewDTLSServer(&udpPeerConn{serverUDP, clientUDP.LocalAddr().(*net.UDPAddr)}, pskConfig())
		serverCh <- serverResult{conn, herr}
	}()

	clientConn, err := NewDTLSClient(clientUDP, pskConfig())
	require.NoError(t, err)
	defer clientConn.Close()

	res := <-serverCh
	require.NoError(t, res.err)
	defer res.conn.Close()

	require.NoError(t, clientConn.Send([]byte("hello rtcore"), DSCPHandshake))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := res.conn.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello rtcore"), data)

	clientKey, err := clientConn.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, 16)
	require.NoError(t, err)
	serverKey, err := res.conn.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, 16)
	require.NoError(t, err)
	require.Equal(t, clientKey, serverKey, "both sides of the handshake must derive identical SRTP keying material")
}

// udpPeerConn adapts a listening *net.UDPConn plus a fixed remote
// address into a net.Conn, the shape NewDTLSServer expects, without
// requiring a second bound socket per peer.
type udpPeerConn struct {
	*net.UDPConn
	remote *net.UDPAddr
}

func (u *udpPeerConn) Read(b []byte) (int, error) {
	n, _, err := u.UDPConn.ReadFromUDP(b)
	return n, err
}

func (u *udpPeerConn) Write(b []byte) (int, error) {
	return u.UDPConn.WriteToUDP(b, u.remote)
}

func (u *udpPeerConn) RemoteAddr() net.Addr { return u.remote }
