// Package hwsim is an in-process stand-in for the two NoC hardware threads.
// The send-slot thread drains the shared ring each time the bridge publishes
// a write offset and answers with its read offset; the receive-slot thread
// streams injected packets back one byte per mailbox word.
package hwsim

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/nocbridge/internal/hwt"
	"github.com/banshee-data/nocbridge/internal/monitoring"
	"github.com/banshee-data/nocbridge/internal/packet"
	"github.com/banshee-data/nocbridge/internal/ring"
)

// Exchange is one write/read offset round trip seen by the send-slot thread.
type Exchange struct {
	WriteWord uint32
	ReadWord  uint32
	Packets   int
}

// Peer simulates the hardware side of both slots.
type Peer struct {
	codec    packet.Codec
	loopback bool
	inject   chan *packet.Packet

	mu        sync.Mutex
	received  []*packet.Packet
	exchanges []Exchange
	stalled   bool
	onPacket  func(*packet.Packet)
}

// Option configures a Peer.
type Option func(*Peer)

// WithCodec sets the record codec; it must match the bridge's header size.
func WithCodec(c packet.Codec) Option {
	return func(p *Peer) { p.codec = c }
}

// WithLoopback sends every consumed packet straight back on the receive slot.
func WithLoopback() Option {
	return func(p *Peer) { p.loopback = true }
}

// WithPacketFunc calls fn for every packet drained from the send ring.
func WithPacketFunc(fn func(*packet.Packet)) Option {
	return func(p *Peer) { p.onPacket = fn }
}

// New returns an idle peer.
func New(opts ...Option) *Peer {
	p := &Peer{inject: make(chan *packet.Packet, 256)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Launch implements hwt.Launcher.
func (p *Peer) Launch(ctx context.Context, slot hwt.Slot, res hwt.Resources) error {
	if res.ToHW == nil || res.FromHW == nil {
		return fmt.Errorf("hwsim: %s launched without mailboxes", slot)
	}
	switch slot {
	case hwt.SlotSend:
		go p.consume(ctx, res)
	case hwt.SlotReceive:
		go p.produce(ctx, res)
	default:
		return fmt.Errorf("hwsim: unknown slot %s", slot)
	}
	return nil
}

// handshake reads the ring geometry word and checks it against the region.
func handshake(ctx context.Context, slot hwt.Slot, res hwt.Resources) bool {
	words, err := res.ToHW.Get(ctx)
	if err != nil {
		return false
	}
	if int(words)*4 != len(res.Ring) {
		monitoring.Logf("[hwsim] %s: ring geometry %d words does not match %d byte region", slot, words, len(res.Ring))
		return false
	}
	return true
}

func (p *Peer) consume(ctx context.Context, res hwt.Resources) {
	if !handshake(ctx, hwt.SlotSend, res) {
		return
	}
	c, err := ring.NewConsumer(res.Ring, p.codec)
	if err != nil {
		monitoring.Logf("[hwsim] sw2hw: %v", err)
		return
	}

	for {
		w, err := res.ToHW.Get(ctx)
		if err != nil {
			return
		}

		var pkts []*packet.Packet
		if !p.Stalled() {
			pkts, err = c.Drain(w * 4)
			if err != nil {
				monitoring.Logf("[hwsim] sw2hw: drain to word %d: %v", w, err)
				return
			}
		}
		p.record(Exchange{WriteWord: w, ReadWord: c.ReadOffset() / 4, Packets: len(pkts)}, pkts)

		for _, pkt := range pkts {
			if p.onPacket != nil {
				p.onPacket(pkt)
			}
			if p.loopback {
				if err := p.Inject(ctx, pkt); err != nil {
					return
				}
			}
		}

		if err := res.FromHW.Put(ctx, c.ReadOffset()/4); err != nil {
			return
		}
	}
}

func (p *Peer) produce(ctx context.Context, res hwt.Resources) {
	if !handshake(ctx, hwt.SlotReceive, res) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-p.inject:
			for _, w := range packet.StreamWords(p.codec.Encode(pkt)) {
				if err := res.FromHW.Put(ctx, w); err != nil {
					return
				}
			}
		}
	}
}

func (p *Peer) record(ex Exchange, pkts []*packet.Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges = append(p.exchanges, ex)
	p.received = append(p.received, pkts...)
}

// Inject queues pkt for delivery to the bridge on the receive slot.
func (p *Peer) Inject(ctx context.Context, pkt *packet.Packet) error {
	if err := pkt.Validate(); err != nil {
		return err
	}
	select {
	case p.inject <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetStalled stops (or resumes) draining the send ring. A stalled peer still
// answers every exchange, with an unchanged read offset.
func (p *Peer) SetStalled(stalled bool) {
	p.mu.Lock()
	p.stalled = stalled
	p.mu.Unlock()
}

// Stalled reports whether the peer is stalled.
func (p *Peer) Stalled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stalled
}

// Received returns the packets drained from the send ring so far.
func (p *Peer) Received() []*packet.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*packet.Packet(nil), p.received...)
}

// Exchanges returns every pointer exchange answered so far.
func (p *Peer) Exchanges() []Exchange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Exchange(nil), p.exchanges...)
}
