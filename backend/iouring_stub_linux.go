// File: backend/iouring_stub_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux && !io_uring

package backend

import (
	"github.com/momentics/hioload-aio/api"
)

// newIOUring reports unavailability when the io_uring tag is off.
func newIOUring(int) (api.Backend, error) {
	return nil, api.ErrBackendUnavailable
}
