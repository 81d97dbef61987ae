// File: api/events_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api_test

import (
	"testing"

	"github.com/momentics/hioload-aio/api"
)

func TestEventMaskHasAndAny(t *testing.T) {
	ev := api.EventRead

	if !ev.Has(api.EventRead) {
		t.Fatal("Has(EventRead) = false on a read event")
	}
	// Has is all-bits: a read-only event does not contain the full set.
	if ev.Has(api.EventRead | api.EventHangup | api.EventError) {
		t.Fatal("Has(Read|Hangup|Error) = true on a read-only event")
	}
	// Any is one-bit: a read-only event matches a set containing read.
	if !ev.Any(api.EventRead | api.EventHangup | api.EventError) {
		t.Fatal("Any(Read|Hangup|Error) = false on a read-only event")
	}
	if ev.Any(api.EventWrite | api.EventError) {
		t.Fatal("Any(Write|Error) = true on a read-only event")
	}

	both := api.EventRead | api.EventWrite
	if !both.Has(api.EventRead|api.EventWrite) || !both.Any(api.EventWrite) {
		t.Fatal("combined mask lost its bits")
	}
}
