//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setSockOptBuffersImpl(fd, recvBuf, sendBuf int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, recvBuf); err != nil {
		return err
	}
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, sendBuf)
}

// setSockOptReusePort lets multiple sockets share one port with
// kernel-level load balancing (Linux-specific).
func setSockOptReusePort(fd int) error {
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// setSockOptBindToDevice binds the socket to a named network
// interface (Linux-only).
func setSockOptBindToDevice(fd int, device string) error {
	return syscall.SetsockoptString(fd, syscall.SOL_SOCKET, unix.SO_BINDTODEVICE, device)
}

// setSockOptDSCP marks the IP_TOS / IPV6_TCLASS fields with dscp<<2.
// Errors setting IPv6 class are ignored; dual-stack sockets that are
// actually IPv4 always fail that call.
func setSockOptDSCP(fd, dscp int) error {
	tos := dscp << 2
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
		return err
	}
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
