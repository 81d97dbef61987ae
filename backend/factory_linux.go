// File: backend/factory_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package backend

import (
	"github.com/momentics/hioload-aio/api"
)

func newPlatform(typ api.BackendType, maxEvents int) (api.Backend, error) {
	switch typ {
	case api.BackendAuto, api.BackendEpoll:
		return newEpoll(maxEvents)
	case api.BackendIOUring:
		return newIOUring(maxEvents)
	case api.BackendSelect:
		return newSelect(maxEvents)
	default:
		return nil, api.ErrBackendUnavailable
	}
}
