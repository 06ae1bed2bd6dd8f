//go:build darwin

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

// setSockOptReusePort has no true SO_REUSEPORT equivalent on all
// macOS versions, so SO_REUSEADDR is set first for compatibility and
// SO_REUSEPORT attempted best-effort.
func setSockOptReusePort(fd int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return err
	}
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	return nil
}

// setSockOptBindToDevice is a no-op on macOS: there is no
// SO_BINDTODEVICE equivalent; interface binding must happen by
// listening on that interface's address instead.
func setSockOptBindToDevice(fd int, device string) error {
	return nil
}

// setSockOptDSCP marks IP_TOS and, where available, IPV6_TCLASS and
// the macOS-specific SO_TRAFFIC_CLASS.
func setSockOptDSCP(fd, dscp int) error {
	tos := dscp << 2
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
		return err
	}
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)

	const soTrafficClass = 0x1001
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, soTrafficClass, trafficClassFor(dscp))
	return nil
}

// trafficClassFor maps a DSCP value onto macOS's SO_TRAFFIC_CLASS
// enumeration.
func trafficClassFor(dscp int) int {
	const (
		tcBE = 0 // best effort
		tcVI = 2 // video
		tcVO = 3 // voice
		tcAV = 4 // audio/video
		tcRD = 5 // responsive data
	)
	switch dscp {
	case DSCPExpeditedForwarding:
		return tcVO
	case DSCPAssuredForwarding41:
		return tcVI
	case DSCPHandshake:
		return tcRD
	case 24, 26, 28, 30:
		return tcAV
	default:
		return tcBE
	}
}
