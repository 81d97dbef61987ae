// File: backend/backend.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend construction. Each OS contributes a newPlatform that maps the
// requested type onto what the host can actually run: epoll, io_uring and
// select on Linux, kqueue and select on the BSDs and Darwin, IOCP on
// Windows. BackendAuto picks the platform default.

package backend

import (
	"github.com/momentics/hioload-aio/api"
)

// New creates a poller of the requested type. api.ErrBackendUnavailable is
// returned when the type does not exist on this platform or was compiled
// out.
func New(typ api.BackendType, maxEvents int) (api.Backend, error) {
	if maxEvents <= 0 {
		maxEvents = api.DefaultMaxEvents
	}
	return newPlatform(typ, maxEvents)
}
