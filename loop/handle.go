// File: loop/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import (
	"github.com/momentics/hioload-aio/api"
)

type handleState uint8

const (
	stateInit handleState = iota
	stateBound
	stateListening
	stateConnecting
	stateConnected
	stateShutdown // write side closed, reads may continue
	stateClosing  // queued for finalization
	stateClosed
)

func (s handleState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateBound:
		return "bound"
	case stateListening:
		return "listening"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateShutdown:
		return "shutdown"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// handle is the part of every I/O object the loop tracks: identity, socket,
// state and registered interest. Owned by the loop thread.
type handle struct {
	l     *Loop
	id    ID
	typ   api.HandleType
	fd    uintptr
	state handleState
	mask  api.EventMask
	inReg bool // fd registered with the backend
}

func (h *handle) attach(l *Loop, typ api.HandleType) {
	h.l = l
	h.typ = typ
	h.state = stateInit
	h.fd = invalidFD
	h.id = l.reg.add(h)
}

// register adds or updates backend interest for the handle's fd.
func (h *handle) register(mask api.EventMask, sink api.EventSink) error {
	if h.inReg {
		if mask == h.mask {
			return nil
		}
		if err := h.l.b.Modify(h.fd, mask); err != nil {
			return err
		}
		h.mask = mask
		return nil
	}
	if err := h.l.b.Add(h.fd, mask, sink); err != nil {
		return err
	}
	h.inReg = true
	h.mask = mask
	return nil
}

func (h *handle) unregister() {
	if !h.inReg {
		return
	}
	h.l.b.Remove(h.fd)
	h.inReg = false
	h.mask = 0
}

func (h *handle) closedOrClosing() bool {
	return h.state == stateClosing || h.state == stateClosed
}
