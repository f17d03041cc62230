package db

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/nocbridge/internal/monitoring"
	"github.com/banshee-data/nocbridge/internal/noc"
	"github.com/banshee-data/nocbridge/internal/packet"
)

// Path labels for the packets table.
const (
	PathSend    = "sw2hw"
	PathReceive = "hw2sw"
)

type traceEvent struct {
	write    *noc.WriteEvent
	exchange *noc.ExchangeEvent
	received *packet.Packet
	at       time.Time
}

// Recorder is a noc.Observer that writes events to the trace database from
// its own goroutine. Events that arrive while the buffer is full are dropped
// and counted, so a slow disk never stalls the bridge.
type Recorder struct {
	db     *DB
	events chan traceEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewRecorder starts a recorder with room for buffer pending events.
func NewRecorder(db *DB, buffer int) *Recorder {
	if buffer < 1 {
		buffer = 1
	}
	r := &Recorder{
		db:     db,
		events: make(chan traceEvent, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) PacketWritten(ev noc.WriteEvent) {
	r.enqueue(traceEvent{write: &ev, at: ev.Time})
}

func (r *Recorder) PointersExchanged(ev noc.ExchangeEvent) {
	r.enqueue(traceEvent{exchange: &ev, at: ev.Time})
}

func (r *Recorder) PacketReceived(p *packet.Packet) {
	r.enqueue(traceEvent{received: p, at: time.Now()})
}

func (r *Recorder) enqueue(ev traceEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.events {
		var err error
		switch {
		case ev.write != nil:
			err = r.db.insertPacket(PathSend, ev.at, ev.write.Packet, &ev.write.Offset, ev.write.Size, ev.write.Trigger.String())
		case ev.exchange != nil:
			err = r.db.insertExchange(ev.at, *ev.exchange)
		case ev.received != nil:
			err = r.db.insertPacket(PathReceive, ev.at, ev.received, nil, 0, "")
		}
		if err != nil {
			r.failed.Add(1)
			monitoring.Logf("[db] record trace event: %v", err)
			continue
		}
		r.recorded.Add(1)
	}
}

// Close stops accepting events and waits until the buffered ones are written.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}

// RecorderStats counts what happened to observed events.
type RecorderStats struct {
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
}

func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
	}
}
