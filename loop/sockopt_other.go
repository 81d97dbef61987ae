// File: loop/sockopt_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build unix && !linux && !darwin

package loop

import (
	"time"

	"github.com/momentics/hioload-aio/api"
)

// setKeepAlivePeriod is a no-op where the idle-time socket options are not
// uniformly available; SO_KEEPALIVE itself is still set by the caller.
func setKeepAlivePeriod(int, time.Duration) {}

// SO_REUSEPORT is not uniformly available on these platforms.
func (t *TCP) applyReusePort() error { return api.ErrNotSupported }
