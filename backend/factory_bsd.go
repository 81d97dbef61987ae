// File: backend/factory_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package backend

import (
	"github.com/momentics/hioload-aio/api"
)

func newPlatform(typ api.BackendType, maxEvents int) (api.Backend, error) {
	switch typ {
	case api.BackendAuto, api.BackendKqueue:
		return newKqueue(maxEvents)
	case api.BackendSelect:
		return newSelect(maxEvents)
	default:
		return nil, api.ErrBackendUnavailable
	}
}
