package noc

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/nocbridge/internal/mailbox"
	"github.com/banshee-data/nocbridge/internal/monitoring"
	"github.com/banshee-data/nocbridge/internal/packet"
	"github.com/banshee-data/nocbridge/internal/ring"
)

// recvPath owns the hardware-to-software direction. The peer pushes one byte
// per mailbox word; the unpacker rebuilds records and the dispatcher hands
// decoded packets to the registered handlers.
type recvPath struct {
	ringMu    sync.Mutex
	ring      *ring.Ring
	toHW      *mailbox.Mailbox
	fromHW    *mailbox.Mailbox
	queue     *packet.Queue
	decoder   *packet.StreamDecoder
	handlers  *registry
	observers observers
	stats     *counters
}

func (rp *recvPath) runUnpacker(ctx context.Context) error {
	for {
		w, err := rp.fromHW.Get(ctx)
		if err != nil {
			return err
		}
		p, err := rp.decoder.Push(w)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWorkerFault, err)
		}
		if p == nil {
			continue
		}
		if err := rp.queue.Add(p); err != nil {
			return fmt.Errorf("%w: %v", ErrWorkerFault, err)
		}
		rp.stats.received.Add(1)
		monitoring.Debugf("[noc] received %s", p)
		rp.observers.packetReceived(p)
	}
}

func (rp *recvPath) runDispatcher(ctx context.Context) error {
	for {
		if err := rp.queue.Wait(ctx); err != nil {
			return err
		}
		p, err := rp.queue.Poll()
		if err != nil {
			return fmt.Errorf("%w: poll after wake-up: %v", ErrWorkerFault, err)
		}
		for _, h := range rp.handlers.snapshot() {
			if err := h.fn(p); err != nil {
				return fmt.Errorf("%w: handler %s: %w", ErrHandlerFault, h.id, err)
			}
		}
		rp.stats.dispatched.Add(1)
	}
}

func (rp *recvPath) dump(w io.Writer) error {
	rp.ringMu.Lock()
	defer rp.ringMu.Unlock()
	return rp.ring.Dump(w)
}

func (rp *recvPath) release() int {
	rp.ringMu.Lock()
	rp.ring.Release()
	rp.ringMu.Unlock()
	return rp.queue.Close()
}
