// Package transport implements the external-transport boundary
// (spec.md §6): UDP demultiplexing of RTP/RTCP/DTLS/STUN datagrams and
// per-send DSCP hinting. Everything above this boundary — ICE, DTLS,
// SCTP, SDP — is an external collaborator this package never touches;
// it only classifies and moves opaque byte buffers.
//
// Grounded on the teacher's transport_common.go/transport_udp.go and
// the platform-specific transport_socket_{linux,darwin,windows}.go
// socket-option helpers (pkg/rtp), generalized from a single RTP
// stream's fixed-DSCP socket to a demultiplexing transport whose
// caller picks the DSCP per send. dtls.go layers an encrypted DTLSConn
// on top (grounded on the teacher's DTLSTransport,
// pkg/rtp/transport_dtls.go), satisfying the same Send/Receive surface
// so the ICE/DTLS boundary named in spec.md §1/§9 stays opaque to
// everything above it.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// DSCP values recognized by Send (spec.md §6: "handshake AF21, media
// defaults DF; the caller may override per packet").
const (
	DSCPDefault             = 0  // DF, best effort — media default
	DSCPHandshake           = 18 // AF21 — DTLS/ICE handshake traffic
	DSCPExpeditedForwarding = 46 // EF — interactive audio, caller opt-in
	DSCPAssuredForwarding41 = 34 // AF41 — streaming video, caller opt-in
)

// Kind classifies an inbound UDP datagram (spec.md §6).
type Kind int

const (
	KindUnknown Kind = iota
	KindRTP
	KindRTCP
	KindDTLSOrSTUN
)

// Classify demultiplexes a UDP payload per spec.md §6: the first
// byte's top two bits select the RTP version (must be 2); the
// following payload-type byte distinguishes RTP (0-63, 96-127) from
// RTCP (64-95).
func Classify(data []byte) Kind {
	if len(data) < 2 {
		return KindUnknown
	}
	version := data[0] >> 6
	if version != 2 {
		return KindDTLSOrSTUN
	}
	pt := data[1] & 0x7F
	switch {
	case pt >= 64 && pt <= 95:
		return KindRTCP
	default:
		return KindRTP
	}
}

const (
	defaultBufferSize    = 1500
	voiceOptimizedRecvBuf = 65535
	voiceOptimizedSendBuf = 65535
)

// Config configures a UDP transport.
type Config struct {
	LocalAddr    string
	RemoteAddr   string // optional; learned from the first inbound packet if empty
	BufferSize   int
	ReusePort    bool
	BindToDevice string
}

func (c *Config) applyDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
}

// UDPConn is a demultiplexing UDP socket with per-send DSCP hinting.
type UDPConn struct {
	conn       *net.UDPConn
	bufferSize int

	mu         sync.RWMutex
	remoteAddr *net.UDPAddr
	active     bool
	lastDSCP   int
	haveDSCP   bool
}

// NewUDP creates a UDP transport bound to cfg.LocalAddr, optionally
// connected to cfg.RemoteAddr.
func NewUDP(cfg Config) (*UDPConn, error) {
	cfg.applyDefaults()

	localAddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve local addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}

	if err := applyVoiceSockOpts(conn, cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: socket options: %w", err)
	}

	t := &UDPConn{conn: conn, bufferSize: cfg.BufferSize, active: true}

	if cfg.RemoteAddr != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: resolve remote addr: %w", err)
		}
		t.remoteAddr = remoteAddr
	}

	return t, nil
}

// applyVoiceSockOpts applies the buffer sizing and optional
// reuse-port/bind-to-device options shared across platforms; DSCP is
// set per-send via Send, not here.
func applyVoiceSockOpts(conn *net.UDPConn, cfg Config) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("syscall conn: %w", err)
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		intFd := int(fd)
		if sockErr = setSockOptBuffers(intFd, cfg.BufferSize); sockErr != nil {
			return
		}
		if cfg.ReusePort {
			if sockErr = setSockOptReusePort(intFd); sockErr != nil {
				return
			}
		}
		if cfg.BindToDevice != "" {
			sockErr = setSockOptBindToDevice(intFd, cfg.BindToDevice)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

func setSockOptBuffers(fd, bufferSize int) error {
	recvBuf := voiceOptimizedRecvBuf
	sendBuf := voiceOptimizedSendBuf
	if bufferSize > defaultBufferSize {
		recvBuf = bufferSize * 4
		sendBuf = bufferSize * 2
	}
	return setSockOptBuffersImpl(fd, recvBuf, sendBuf)
}

// Send writes payload to the connected/learned remote address, first
// retagging the socket's DSCP marking if it differs from the last
// send (spec.md §6). Per-packet cmsg-based marking would avoid the
// shared-socket retag race under concurrent senders of different
// classes; this transport assumes one egress pipeline serializes
// sends, consistent with pkg/egress's single RtpSenderEgress.send path.
func (t *UDPConn) Send(payload []byte, dscp int) error {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return fmt.Errorf("transport: not active")
	}
	remote := t.remoteAddr
	if !t.haveDSCP || t.lastDSCP != dscp {
		if err := t.setDSCP(dscp); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("transport: set dscp: %w", err)
		}
		t.lastDSCP = dscp
		t.haveDSCP = true
	}
	t.mu.Unlock()

	if remote == nil {
		return fmt.Errorf("transport: no remote address")
	}
	_, err := t.conn.WriteToUDP(payload, remote)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (t *UDPConn) setDSCP(dscp int) error {
	rawConn, err := t.conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		sockErr = setSockOptDSCP(int(fd), dscp)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Receive reads one datagram, blocking until data arrives, ctx is
// canceled, or the read deadline (100ms, matching the teacher's
// receive-loop polling interval) expires.
func (t *UDPConn) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	t.mu.RLock()
	active := t.active
	t.mu.RUnlock()
	if !active {
		return nil, nil, fmt.Errorf("transport: not active")
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	buf := make([]byte, t.bufferSize)
	t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		return nil, nil, err
	}

	t.mu.Lock()
	if t.remoteAddr == nil {
		t.remoteAddr = addr
	}
	t.mu.Unlock()

	return buf[:n], addr, nil
}

// LocalAddr returns the socket's local address.
func (t *UDPConn) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the connected/learned remote address, or nil.
func (t *UDPConn) RemoteAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.remoteAddr == nil {
		return nil
	}
	return t.remoteAddr
}

// Close shuts the socket down.
func (t *UDPConn) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return nil
	}
	t.active = false
	return t.conn.Close()
}

// IsActive reports whether Close has been called.
func (t *UDPConn) IsActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}
