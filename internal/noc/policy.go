package noc

import (
	"context"

	"github.com/banshee-data/nocbridge/internal/packet"
)

// applyPolicyLocked decides, after p has been written, whether the pointer
// exchange happens now or after the batching timeout. Both timerMu and ptrMu
// must be held. It returns the trigger that requested an immediate exchange,
// or TriggerNone when the packet was deferred.
func (sp *sendPath) applyPolicyLocked(p *packet.Packet) Trigger {
	trig := TriggerNone
	switch {
	case p.LatencyCritical:
		trig = TriggerLatencyCritical
	case sp.ring.AlmostFull(sp.threshold):
		trig = TriggerAlmostFull
	}

	if trig != TriggerNone {
		if sp.timerRunning {
			sp.timerRunning = false
			signal(sp.timerAbort)
			sp.stats.timerAborts.Add(1)
		}
		sp.startTimer = false
		sp.markDirtyLocked(trig)
		return trig
	}

	sp.startTimerLocked()
	return TriggerNone
}

// startTimerLocked asks the timer goroutine to arm unless it already is.
// timerMu must be held.
func (sp *sendPath) startTimerLocked() {
	if !sp.timerRunning && !sp.startTimer {
		sp.startTimer = true
		signal(sp.timerStart)
		sp.stats.timerStarts.Add(1)
	}
}

// runTimer is the batching timer: Idle until a deferred packet asks for a
// start, Armed until the timeout or an abort, then Idle again. Only a timeout
// that was not aborted marks the write pointer dirty.
func (sp *sendPath) runTimer(ctx context.Context) error {
	for {
		sp.timerMu.Lock()
		for !sp.startTimer {
			sp.timerMu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-sp.timerStart:
			}
			sp.timerMu.Lock()
		}
		sp.startTimer = false
		sp.timerRunning = true
		drain(sp.timerAbort)
		t := sp.clock.NewTimer(sp.timeout)
		sp.timerMu.Unlock()

		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C():
		case <-sp.timerAbort:
			t.Stop()
		}

		sp.timerMu.Lock()
		if sp.timerRunning {
			sp.ptrMu.Lock()
			sp.markDirtyLocked(TriggerTimer)
			sp.ptrMu.Unlock()
			sp.stats.timerExpiries.Add(1)
		}
		sp.timerRunning = false
		sp.timerMu.Unlock()
	}
}
