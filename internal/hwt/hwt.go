// Package hwt describes how the bridge starts the hardware threads at either
// end of the NoC interface. A Launcher is handed a pair of mailboxes and the
// shared ring for one slot and must start the peer without blocking.
package hwt

import (
	"context"
	"fmt"

	"github.com/banshee-data/nocbridge/internal/mailbox"
)

// Slot identifies a hardware thread.
type Slot int

const (
	// SlotReceive pushes hardware-to-software packets as stream words.
	SlotReceive Slot = 0
	// SlotSend consumes the software-to-hardware ring.
	SlotSend Slot = 1
)

func (s Slot) String() string {
	switch s {
	case SlotReceive:
		return "hw2sw"
	case SlotSend:
		return "sw2hw"
	default:
		return fmt.Sprintf("slot%d", int(s))
	}
}

// Resources are the channels and memory shared with one hardware thread.
// ToHW carries words from the bridge to the peer and FromHW the reverse. The
// first word the bridge puts on ToHW is the ring capacity in words.
type Resources struct {
	ToHW   *mailbox.Mailbox
	FromHW *mailbox.Mailbox
	Ring   []byte
}

// Launcher starts a hardware thread. Launch must return once the thread is
// running; the thread stops when ctx ends or its mailboxes are closed.
type Launcher interface {
	Launch(ctx context.Context, slot Slot, res Resources) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, slot Slot, res Resources) error

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, slot Slot, res Resources) error {
	return f(ctx, slot, res)
}
