// File: loop/sockopt_darwin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build darwin

package loop

import (
	"time"

	"golang.org/x/sys/unix"
)

func setKeepAlivePeriod(fd int, d time.Duration) {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	// Probe idle time; the per-probe interval stays at the system default.
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, secs)
}

func (t *TCP) applyReusePort() error {
	v := 0
	if t.reusePort {
		v = 1
	}
	if err := unix.SetsockoptInt(int(t.h.fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, v); err != nil {
		return wrapSysErr("setsockopt", err)
	}
	return nil
}
