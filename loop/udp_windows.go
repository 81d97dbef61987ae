// File: loop/udp_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Datagram support is not carried on the completion driver yet; NewUDP
// reports api.ErrNotSupported and these hooks are never reached.

package loop

import (
	"net"

	"github.com/momentics/hioload-aio/api"
)

const udpSupported = false

type udpOS struct{}

func (u *UDP) sockBindUDP(*net.UDPAddr) error { return api.ErrNotSupported }
func (u *UDP) applyBroadcast() error          { return api.ErrNotSupported }
func (u *UDP) updateUDPInterest() error       { return api.ErrNotSupported }
func (u *UDP) kickSend() error                { return api.ErrNotSupported }
func (u *UDP) teardownUDP()                   { u.finishClose() }
