// File: loop/sock_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/windows"
)

var winsockOnce sync.Once

// winsockInit performs the process-wide WSAStartup. Never unloaded; the OS
// reclaims it at exit.
func winsockInit() {
	winsockOnce.Do(func() {
		var data windows.WSAData
		windows.WSAStartup(uint32(0x202), &data)
	})
}

func closeFD(fd uintptr) {
	if fd != invalidFD {
		windows.Closesocket(windows.Handle(fd))
	}
}

// newStreamFD creates an overlapped stream socket for the completion port.
func newStreamFD(family, sotype int) (uintptr, error) {
	winsockInit()
	proto := int32(windows.IPPROTO_TCP)
	if sotype == windows.SOCK_DGRAM {
		proto = windows.IPPROTO_UDP
	}
	h, err := windows.WSASocket(int32(family), int32(sotype), proto,
		nil, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		return invalidFD, fmt.Errorf("loop: socket: %w", err)
	}
	return uintptr(h), nil
}

func addrFamily(ip net.IP) int {
	if ip4 := ip.To4(); ip4 != nil || ip == nil {
		return windows.AF_INET
	}
	return windows.AF_INET6
}

func ipPortSockaddr(ip net.IP, port int) (windows.Sockaddr, error) {
	if ip4 := ip.To4(); ip4 != nil || ip == nil {
		sa := &windows.SockaddrInet4{Port: port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return sa, nil
	}
	ip6 := ip.To16()
	if ip6 == nil {
		return nil, fmt.Errorf("loop: bad address %v", ip)
	}
	sa := &windows.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip6)
	return sa, nil
}

func sockaddrToTCP(sa windows.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *windows.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	case *windows.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	default:
		return nil
	}
}
