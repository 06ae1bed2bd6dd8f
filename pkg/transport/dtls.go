package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/logging"
)

// DTLSConfig configures a DTLSConn: the encrypted session layered over
// an already-connected transport, per spec.md §9's design note
// ("Transport -> DtlsTransport -> SctpTransport collapse to a pair of
// traits"). Grounded on the teacher's DTLSTransportConfig
// (pkg/rtp/transport_dtls.go), narrowed to what rtcore actually needs:
// the handshake and key-export surface, not a parallel RTP-aware
// Send/Receive pair.
type DTLSConfig struct {
	Certificates       []tls.Certificate
	RootCAs            *x509.CertPool
	ClientCAs          *x509.CertPool
	ServerName         string
	InsecureSkipVerify bool

	// PSK and PSKIdentityHint select pre-shared-key mode instead of
	// certificates, matching the teacher's IoT-oriented PSK fields.
	PSK             func(hint []byte) ([]byte, error)
	PSKIdentityHint []byte

	CipherSuites           []dtls.CipherSuiteID
	HandshakeTimeout       time.Duration
	MTU                    int
	ReplayProtectionWindow int

	// LoggerFactory supplies the pion/logging.LeveledLogger the DTLS
	// state machine itself logs handshake/alert events through.
	// Defaults to logging.NewDefaultLoggerFactory() (stderr, Info).
	LoggerFactory logging.LoggerFactory
}

// DefaultDTLSConfig returns a DTLSConfig with the teacher's handshake
// timeout, MTU, and replay window, plus a default logger factory.
func DefaultDTLSConfig() DTLSConfig {
	return DTLSConfig{
		HandshakeTimeout:       30 * time.Second,
		MTU:                    1200,
		ReplayProtectionWindow: 64,
		LoggerFactory:          logging.NewDefaultLoggerFactory(),
	}
}

func applyDTLSDefaults(cfg DTLSConfig) DTLSConfig {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MTU == 0 {
		cfg.MTU = 1200
	}
	if cfg.ReplayProtectionWindow == 0 {
		cfg.ReplayProtectionWindow = 64
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return cfg
}

func (cfg DTLSConfig) toDTLS() *dtls.Config {
	return &dtls.Config{
		Certificates:           cfg.Certificates,
		RootCAs:                cfg.RootCAs,
		ClientCAs:              cfg.ClientCAs,
		ServerName:             cfg.ServerName,
		CipherSuites:           cfg.CipherSuites,
		InsecureSkipVerify:     cfg.InsecureSkipVerify,
		PSK:                    cfg.PSK,
		PSKIdentityHint:        cfg.PSKIdentityHint,
		MTU:                    cfg.MTU,
		ReplayProtectionWindow: cfg.ReplayProtectionWindow,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		LoggerFactory:          cfg.LoggerFactory,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
		},
	}
}

// DTLSConn is a DTLS session wrapped in rtcore's opaque send/receive
// surface: it satisfies egress.Transport (Send(payload, dscp) error)
// exactly like UDPConn, so RtpSenderEgress never needs to know whether
// it is writing to a bare UDP socket or a secured one. DSCP marking
// happens on the underlying socket (see UDPConn.Send); dscp is accepted
// here only to satisfy the interface.
type DTLSConn struct {
	underlying net.Conn
	session    *dtls.Conn
	bufferSize int

	mu     sync.RWMutex
	active bool
}

// NewDTLSClient performs a DTLS client handshake over conn (already
// connected to the remote peer, typically the net.Conn backing a
// *UDPConn once ICE has selected a candidate pair).
func NewDTLSClient(conn net.Conn, cfg DTLSConfig) (*DTLSConn, error) {
	cfg = applyDTLSDefaults(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
	defer cancel()
	session, err := dtls.ClientWithContext(ctx, conn, cfg.toDTLS())
	if err != nil {
		return nil, fmt.Errorf("transport: dtls client handshake: %w", err)
	}
	return &DTLSConn{underlying: conn, session: session, bufferSize: defaultBufferSize, active: true}, nil
}

// NewDTLSServer performs a DTLS server handshake over conn.
func NewDTLSServer(conn net.Conn, cfg DTLSConfig) (*DTLSConn, error) {
	cfg = applyDTLSDefaults(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
	defer cancel()
	session, err := dtls.ServerWithContext(ctx, conn, cfg.toDTLS())
	if err != nil {
		return nil, fmt.Errorf("transport: dtls server handshake: %w", err)
	}
	return &DTLSConn{underlying: conn, session: session, bufferSize: defaultBufferSize, active: true}, nil
}

// Send writes payload over the DTLS session.
func (d *DTLSConn) Send(payload []byte, _ int) error {
	d.mu.RLock()
	active := d.active
	d.mu.RUnlock()
	if !active {
		return fmt.Errorf("transport: dtls session not active")
	}
	if _, err := d.session.Write(payload); err != nil {
		return fmt.Errorf("transport: dtls write: %w", err)
	}
	return nil
}

// Receive reads and decrypts one datagram, blocking until data
// arrives, ctx is canceled, or a 100ms read deadline (matching
// UDPConn.Receive) expires.
func (d *DTLSConn) Receive(ctx context.Context) ([]byte, error) {
	d.mu.RLock()
	active := d.active
	d.mu.RUnlock()
	if !active {
		return nil, fmt.Errorf("transport: dtls session not active")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	buf := make([]byte, d.bufferSize)
	d.session.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	n, err := d.session.Read(buf)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return nil, fmt.Errorf("transport: dtls read: %w", err)
	}
	return buf[:n], nil
}

// ExportKeyingMaterial derives SRTP session keys per RFC 5764 from the
// completed handshake — the boundary call that hands the external
// SRTP collaborator its keys (spec.md §1).
func (d *DTLSConn) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	state := d.session.ConnectionState()
	return state.ExportKeyingMaterial(label, context, length)
}

// ConnectionState exposes the underlying DTLS connection state (cipher
// suite, peer certificates) for diagnostics.
func (d *DTLSConn) ConnectionState() dtls.State {
	return d.session.ConnectionState()
}

// Close shuts the DTLS session (and its underlying conn) down.
func (d *DTLSConn) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return nil
	}
	d.active = false
	return d.session.Close()
}

// IsActive reports whether Close has been called.
func (d *DTLSConn) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active
}
