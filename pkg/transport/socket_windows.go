//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func setSockOptBuffersImpl(fd, recvBuf, sendBuf int) error {
	handle := syscall.Handle(fd)
	if err := syscall.SetsockoptInt(handle, syscall.SOL_SOCKET, syscall.SO_RCVBUF, recvBuf); err != nil {
		return err
	}
	return syscall.SetsockoptInt(handle, syscall.SOL_SOCKET, syscall.SO_SNDBUF, sendBuf)
}

// setSockOptReusePort falls back to SO_REUSEADDR: Windows has no
// SO_REUSEPORT.
func setSockOptReusePort(fd int) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}

// setSockOptBindToDevice is a no-op on Windows: binding to an
// interface must happen by address, not device name.
func setSockOptBindToDevice(fd int, device string) error {
	return nil
}

// setSockOptDSCP marks IP_TOS; Windows often requires administrative
// privilege for some TOS values, so failures are swallowed.
func setSockOptDSCP(fd, dscp int) error {
	handle := syscall.Handle(fd)
	tos := dscp << 2
	if err := syscall.SetsockoptInt(handle, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
		return nil
	}
	_ = syscall.SetsockoptInt(handle, syscall.IPPROTO_IPV6, windows.IPV6_TCLASS, tos)
	return nil
}
