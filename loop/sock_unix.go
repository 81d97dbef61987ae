// File: loop/sock_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build unix

package loop

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func closeFD(fd uintptr) {
	if fd != invalidFD {
		unix.Close(int(fd))
	}
}

// newStreamFD creates a nonblocking close-on-exec socket. SOCK_NONBLOCK is
// not portable to darwin, so the flags are applied separately.
func newStreamFD(family, sotype int) (uintptr, error) {
	fd, err := unix.Socket(family, sotype, 0)
	if err != nil {
		return invalidFD, fmt.Errorf("loop: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return invalidFD, fmt.Errorf("loop: set nonblock: %w", err)
	}
	unix.CloseOnExec(fd)
	return uintptr(fd), nil
}

func addrFamily(ip net.IP) int {
	if ip4 := ip.To4(); ip4 != nil || ip == nil {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func ipPortSockaddr(ip net.IP, port int) (unix.Sockaddr, error) {
	if ip4 := ip.To4(); ip4 != nil || ip == nil {
		sa := &unix.SockaddrInet4{Port: port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return sa, nil
	}
	ip6 := ip.To16()
	if ip6 == nil {
		return nil, fmt.Errorf("loop: bad address %v", ip)
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip6)
	return sa, nil
}

func sockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	default:
		return nil
	}
}

func sockaddrToUDP(sa unix.Sockaddr) *net.UDPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	default:
		return nil
	}
}

// sockError drains SO_ERROR, the only way to learn the outcome of a
// nonblocking connect.
func sockError(fd uintptr) error {
	v, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}
