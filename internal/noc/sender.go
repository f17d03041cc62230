package noc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/nocbridge/internal/mailbox"
	"github.com/banshee-data/nocbridge/internal/monitoring"
	"github.com/banshee-data/nocbridge/internal/packet"
	"github.com/banshee-data/nocbridge/internal/ring"
	"github.com/banshee-data/nocbridge/internal/timeutil"
)

// sendPath owns the software-to-hardware direction: the packet queue, the
// ring, the batching timer and the pointer exchange. Lock order is timerMu
// then ptrMu; the queue lock is never held with either.
type sendPath struct {
	queue     *packet.Queue
	ring      *ring.Ring
	toHW      *mailbox.Mailbox
	fromHW    *mailbox.Mailbox
	clock     timeutil.Clock
	timeout   time.Duration
	threshold int
	observers observers
	stats     *counters

	timerMu      sync.Mutex
	startTimer   bool
	timerRunning bool
	timerStart   chan struct{}
	timerAbort   chan struct{}

	ptrMu    sync.Mutex
	dirty    bool
	trigger  Trigger
	batch    int
	exchange chan struct{}
	offsets  chan struct{}
	// peerStalled is set when the last exchange left unread ring data
	// behind without moving the read offset.
	peerStalled bool
}

func newSendPath(q *packet.Queue, r *ring.Ring, toHW, fromHW *mailbox.Mailbox, clock timeutil.Clock,
	timeout time.Duration, threshold int, obs observers, stats *counters) *sendPath {
	return &sendPath{
		queue:      q,
		ring:       r,
		toHW:       toHW,
		fromHW:     fromHW,
		clock:      clock,
		timeout:    timeout,
		threshold:  threshold,
		observers:  obs,
		stats:      stats,
		timerStart: make(chan struct{}, 1),
		timerAbort: make(chan struct{}, 1),
		exchange:   make(chan struct{}, 1),
		offsets:    make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

// markDirtyLocked requests a pointer exchange. ptrMu must be held.
func (sp *sendPath) markDirtyLocked(t Trigger) {
	if !sp.dirty {
		sp.dirty = true
		sp.trigger = t
	}
	signal(sp.exchange)
}

// runPacker moves packets from the queue into the ring in FIFO order.
func (sp *sendPath) runPacker(ctx context.Context) error {
	for {
		if err := sp.queue.Wait(ctx); err != nil {
			return err
		}
		p, err := sp.queue.Poll()
		if err != nil {
			return fmt.Errorf("%w: poll after wake-up: %v", ErrWorkerFault, err)
		}
		if err := sp.pack(ctx, p); err != nil {
			return err
		}
	}
}

// pack waits for ring space, writes p and applies the batching policy.
func (sp *sendPath) pack(ctx context.Context, p *packet.Packet) error {
	sp.timerMu.Lock()
	sp.ptrMu.Lock()
	for !sp.ring.CanFit(p) {
		// The read offset we hold may be stale with no exchange pending.
		// Ask for one now unless the peer ignored the last one; then poll
		// again on the batching timer.
		if sp.peerStalled {
			sp.startTimerLocked()
		} else {
			sp.markDirtyLocked(TriggerBackpressure)
		}
		sp.ptrMu.Unlock()
		sp.timerMu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sp.offsets:
		}

		sp.timerMu.Lock()
		sp.ptrMu.Lock()
	}

	offset := sp.ring.WriteOffset()
	n, err := sp.ring.Write(p)
	if err != nil {
		sp.ptrMu.Unlock()
		sp.timerMu.Unlock()
		return fmt.Errorf("%w: %v", ErrWorkerFault, err)
	}
	sp.batch++
	trig := sp.applyPolicyLocked(p)
	sp.ptrMu.Unlock()
	sp.timerMu.Unlock()

	sp.stats.written.Add(1)
	sp.stats.bytesWritten.Add(uint64(n))
	monitoring.Debugf("[noc] packed %s at offset %d (%d bytes, trigger %s)", p, offset, n, trig)
	sp.observers.packetWritten(WriteEvent{
		Time:    sp.clock.Now(),
		Packet:  p,
		Offset:  offset,
		Size:    n,
		Trigger: trig,
	})
	return nil
}

// runExchange publishes the write offset and collects the hardware read
// offset whenever the write pointer is dirty.
func (sp *sendPath) runExchange(ctx context.Context) error {
	capWords := uint32(sp.ring.Capacity() / 4)
	for {
		sp.ptrMu.Lock()
		for !sp.dirty {
			sp.ptrMu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-sp.exchange:
			}
			sp.ptrMu.Lock()
		}
		trig := sp.trigger
		sp.dirty = false
		sp.trigger = TriggerNone
		bytes := sp.ring.Unpublished()
		writeWord := sp.ring.Publish()
		batch := sp.batch
		sp.batch = 0
		sp.ptrMu.Unlock()

		start := sp.clock.Now()
		if err := sp.toHW.Put(ctx, writeWord); err != nil {
			return err
		}
		readWord, err := sp.fromHW.Get(ctx)
		if err != nil {
			return err
		}
		if readWord >= capWords {
			return fmt.Errorf("%w: %v: read word %d outside %d word ring", ErrWorkerFault, ring.ErrProtocol, readWord, capWords)
		}

		sp.ptrMu.Lock()
		prevRead := sp.ring.ReadOffset()
		err = sp.ring.UpdateReadOffset(readWord * 4)
		if err == nil {
			sp.peerStalled = readWord == prevRead/4 && readWord != writeWord
			signal(sp.offsets)
		}
		sp.ptrMu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWorkerFault, err)
		}

		sp.stats.exchanges.Add(1)
		sp.stats.byTrigger[trig].Add(1)
		ev := ExchangeEvent{
			Time:      start,
			WriteWord: writeWord,
			ReadWord:  readWord,
			Packets:   batch,
			Bytes:     bytes,
			Trigger:   trig,
			Latency:   sp.clock.Since(start),
		}
		monitoring.Debugf("[noc] exchange: write=%d read=%d packets=%d trigger=%s", writeWord, readWord, batch, trig)
		sp.observers.pointersExchanged(ev)
	}
}

func (sp *sendPath) timerArmed() bool {
	sp.timerMu.Lock()
	defer sp.timerMu.Unlock()
	return sp.timerRunning
}

func (sp *sendPath) snapshot() ring.State {
	return sp.ring.Snapshot()
}

func (sp *sendPath) dump(w io.Writer) error {
	sp.ptrMu.Lock()
	defer sp.ptrMu.Unlock()
	return sp.ring.Dump(w)
}

func (sp *sendPath) release() int {
	sp.ptrMu.Lock()
	sp.ring.Release()
	sp.ptrMu.Unlock()
	return sp.queue.Close()
}
