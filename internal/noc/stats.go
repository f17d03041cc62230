package noc

import (
	"sync/atomic"

	"github.com/banshee-data/nocbridge/internal/ring"
)

type counters struct {
	submitted     atomic.Uint64
	written       atomic.Uint64
	bytesWritten  atomic.Uint64
	exchanges     atomic.Uint64
	byTrigger     [numTriggers]atomic.Uint64
	timerStarts   atomic.Uint64
	timerAborts   atomic.Uint64
	timerExpiries atomic.Uint64
	received      atomic.Uint64
	dispatched    atomic.Uint64
}

// Stats is a point-in-time snapshot of bridge activity.
type Stats struct {
	State              string            `json:"state"`
	PacketsSubmitted   uint64            `json:"packets_submitted"`
	PacketsWritten     uint64            `json:"packets_written"`
	BytesWritten       uint64            `json:"bytes_written"`
	Exchanges          uint64            `json:"exchanges"`
	ExchangesByTrigger map[string]uint64 `json:"exchanges_by_trigger"`
	TimerStarts        uint64            `json:"timer_starts"`
	TimerAborts        uint64            `json:"timer_aborts"`
	TimerExpiries      uint64            `json:"timer_expiries"`
	TimerArmed         bool              `json:"timer_armed"`
	SendQueueLen       int               `json:"send_queue_len"`
	PacketsReceived    uint64            `json:"packets_received"`
	PacketsDispatched  uint64            `json:"packets_dispatched"`
	ReceiveQueueLen    int               `json:"receive_queue_len"`
	Handlers           int               `json:"handlers"`
	SendRing           ring.State        `json:"send_ring"`
}

func (c *counters) fill(s *Stats) {
	s.PacketsSubmitted = c.submitted.Load()
	s.PacketsWritten = c.written.Load()
	s.BytesWritten = c.bytesWritten.Load()
	s.Exchanges = c.exchanges.Load()
	s.ExchangesByTrigger = make(map[string]uint64)
	for t := TriggerLatencyCritical; t < numTriggers; t++ {
		if n := c.byTrigger[t].Load(); n > 0 {
			s.ExchangesByTrigger[t.String()] = n
		}
	}
	s.TimerStarts = c.timerStarts.Load()
	s.TimerAborts = c.timerAborts.Load()
	s.TimerExpiries = c.timerExpiries.Load()
	s.PacketsReceived = c.received.Load()
	s.PacketsDispatched = c.dispatched.Load()
}
