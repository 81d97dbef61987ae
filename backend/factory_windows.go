// File: backend/factory_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package backend

import (
	"github.com/momentics/hioload-aio/api"
)

func newPlatform(typ api.BackendType, maxEvents int) (api.Backend, error) {
	switch typ {
	case api.BackendAuto, api.BackendIOCP:
		return newIOCP(maxEvents)
	default:
		return nil, api.ErrBackendUnavailable
	}
}
