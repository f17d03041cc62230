package noc

import (
	"time"

	"github.com/banshee-data/nocbridge/internal/packet"
)

// Trigger records why the send-side write pointer was marked dirty.
type Trigger uint8

const (
	TriggerNone Trigger = iota
	TriggerLatencyCritical
	TriggerAlmostFull
	TriggerTimer
	TriggerBackpressure
	numTriggers
)

func (t Trigger) String() string {
	switch t {
	case TriggerLatencyCritical:
		return "latency_critical"
	case TriggerAlmostFull:
		return "almost_full"
	case TriggerTimer:
		return "timer"
	case TriggerBackpressure:
		return "backpressure"
	default:
		return "none"
	}
}

// WriteEvent describes one packet packed into the send ring.
type WriteEvent struct {
	Time    time.Time
	Packet  *packet.Packet
	Offset  uint32 // ring byte offset of the record
	Size    int    // ring bytes used, including padding
	Trigger Trigger
}

// ExchangeEvent describes one send-side pointer exchange round trip.
type ExchangeEvent struct {
	Time      time.Time
	WriteWord uint32
	ReadWord  uint32
	Packets   int
	Bytes     int
	Trigger   Trigger
	Latency   time.Duration
}

// Observer receives bridge events. Methods run on worker goroutines and must
// return quickly without calling back into the bridge.
type Observer interface {
	PacketWritten(ev WriteEvent)
	PointersExchanged(ev ExchangeEvent)
	PacketReceived(p *packet.Packet)
}

// BaseObserver implements Observer with no-ops, for embedding.
type BaseObserver struct{}

func (BaseObserver) PacketWritten(WriteEvent)        {}
func (BaseObserver) PointersExchanged(ExchangeEvent) {}
func (BaseObserver) PacketReceived(*packet.Packet)   {}

type observers []Observer

func (o observers) packetWritten(ev WriteEvent) {
	for _, ob := range o {
		ob.PacketWritten(ev)
	}
}

func (o observers) pointersExchanged(ev ExchangeEvent) {
	for _, ob := range o {
		ob.PointersExchanged(ev)
	}
}

func (o observers) packetReceived(p *packet.Packet) {
	for _, ob := range o {
		ob.PacketReceived(p)
	}
}
