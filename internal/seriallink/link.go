// Package seriallink reaches the NoC hardware threads over a UART. Mailbox
// words travel as word frames in both directions; before each write offset
// is forwarded, the newly published span of the send ring is mirrored to the
// board as ring frames so the device reads the same bytes the bridge wrote.
package seriallink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/nocbridge/internal/httputil"
	"github.com/banshee-data/nocbridge/internal/hwt"
	"github.com/banshee-data/nocbridge/internal/monitoring"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrLinkClosed  = errors.New("serial link closed")
)

// Link is an hwt.Launcher whose hardware threads live on the far side of a
// serial port.
type Link struct {
	port    SerialPorter
	writeMu sync.Mutex

	mu      sync.Mutex
	slots   map[hwt.Slot]*slotLink
	closing bool

	monitorOnce sync.Once

	framesOut atomic.Uint64
	framesIn  atomic.Uint64
	ringBytes atomic.Uint64
	dropped   atomic.Uint64
}

type slotLink struct {
	slot    hwt.Slot
	res     hwt.Resources
	shipped uint32
}

// NewLink wraps an open port.
func NewLink(port SerialPorter) *Link {
	return &Link{
		port:  port,
		slots: make(map[hwt.Slot]*slotLink),
	}
}

// Launch implements hwt.Launcher. The first launch also starts the reader
// that feeds word frames from the board into the FromHW mailboxes.
func (l *Link) Launch(ctx context.Context, slot hwt.Slot, res hwt.Resources) error {
	if res.ToHW == nil || res.FromHW == nil {
		return fmt.Errorf("seriallink: %s launched without mailboxes", slot)
	}
	if slot == hwt.SlotSend && len(res.Ring)%4 != 0 {
		return fmt.Errorf("seriallink: %s ring of %d bytes is not word aligned", slot, len(res.Ring))
	}

	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if _, ok := l.slots[slot]; ok {
		l.mu.Unlock()
		return fmt.Errorf("seriallink: %s already launched", slot)
	}
	sl := &slotLink{slot: slot, res: res}
	l.slots[slot] = sl
	l.mu.Unlock()

	l.monitorOnce.Do(func() { go l.Monitor(ctx) })
	go l.forward(ctx, sl)
	return nil
}

func (l *Link) lookup(slot hwt.Slot) *slotLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slots[slot]
}

func (l *Link) write(f Frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := WriteFrame(l.port, f); err != nil {
		return err
	}
	l.framesOut.Add(1)
	return nil
}

// forward copies ToHW words to the board. The first word is the geometry
// handshake; after it, every send-slot word is a write offset whose ring
// span is shipped first.
func (l *Link) forward(ctx context.Context, sl *slotLink) {
	first := true
	for {
		w, err := sl.res.ToHW.Get(ctx)
		if err != nil {
			return
		}
		if sl.slot == hwt.SlotSend && !first {
			if err := l.shipRing(sl, w*4); err != nil {
				monitoring.Logf("[seriallink] %s: ship ring to offset %d: %v", sl.slot, w*4, err)
				return
			}
		}
		first = false
		if err := l.write(Frame{Type: FrameWord, Slot: sl.slot, Word: w}); err != nil {
			monitoring.Logf("[seriallink] %s: write word: %v", sl.slot, err)
			return
		}
	}
}

// shipRing mirrors the ring bytes between the last shipped offset and to,
// splitting at the end of the buffer.
func (l *Link) shipRing(sl *slotLink, to uint32) error {
	ring := sl.res.Ring
	capacity := uint32(len(ring))
	if to >= capacity {
		return fmt.Errorf("%w: offset %d outside %d byte ring", ErrBadFrame, to, capacity)
	}
	for sl.shipped != to {
		end := to
		if end < sl.shipped {
			end = capacity
		}
		if end-sl.shipped > maxRingChunk {
			end = sl.shipped + maxRingChunk
		}
		err := l.write(Frame{Type: FrameRing, Slot: sl.slot, Offset: sl.shipped, Data: ring[sl.shipped:end]})
		if err != nil {
			return err
		}
		l.ringBytes.Add(uint64(end - sl.shipped))
		sl.shipped = end % capacity
	}
	return nil
}

// Monitor reads frames from the port until ctx ends or the port fails and
// delivers word frames to the matching slot.
func (l *Link) Monitor(ctx context.Context) error {
	frames := make(chan Frame)
	readErr := make(chan error, 1)

	go func(out chan<- Frame) {
		defer close(out)
		r := bufio.NewReader(l.port)
		for {
			f, err := ReadFrame(r)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}(frames)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if l.isClosing() {
				return nil
			}
			monitoring.Logf("[seriallink] read: %v", err)
			return err
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			l.framesIn.Add(1)
			if err := l.deliver(ctx, f); err != nil {
				return nil
			}
		}
	}
}

func (l *Link) deliver(ctx context.Context, f Frame) error {
	sl := l.lookup(f.Slot)
	if f.Type != FrameWord || sl == nil {
		l.dropped.Add(1)
		monitoring.Debugf("[seriallink] dropped type %d frame for %s", f.Type, f.Slot)
		return nil
	}
	return sl.res.FromHW.Put(ctx, f.Word)
}

func (l *Link) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

// Close closes the port, which also ends the reader.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return nil
	}
	l.closing = true
	l.mu.Unlock()
	return l.port.Close()
}

// Stats counts frames moved over the link.
type Stats struct {
	FramesOut uint64 `json:"frames_out"`
	FramesIn  uint64 `json:"frames_in"`
	RingBytes uint64 `json:"ring_bytes"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns the current counters.
func (l *Link) Stats() Stats {
	return Stats{
		FramesOut: l.framesOut.Load(),
		FramesIn:  l.framesIn.Load(),
		RingBytes: l.ringBytes.Load(),
		Dropped:   l.dropped.Load(),
	}
}

// AttachAdminRoutes registers the serial link counters under /debug/.
func (l *Link) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("serial-stats", "NoC serial link frame counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, l.Stats())
	})
}
