// File: loop/resolve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import (
	"fmt"
	"net"
)

func resolveTCP(addr string) (*net.TCPAddr, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("loop: resolve %q: %w", addr, err)
	}
	return ta, nil
}

func resolveUDP(addr string) (*net.UDPAddr, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("loop: resolve %q: %w", addr, err)
	}
	return ua, nil
}
