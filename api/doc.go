// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api defines the contracts shared by every hioload-aio package:
// the backend (OS event multiplexer) interface, event masks, handle typing,
// the bounded queue contract, the executor contract, configuration, and the
// sentinel errors of the public surface.
//
// The api package has no platform-specific code. Implementations live in
// backend, queue, threadpool and loop.
package api
