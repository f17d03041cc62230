package noc

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/nocbridge/internal/packet"
)

// PacketHandler consumes a received packet. Handlers run in registration
// order on the dispatcher goroutine and must not modify the packet. A
// returned error shuts the bridge down. A handler that wants to stop the
// bridge calls Bridge.Shutdown; calling Bridge.Stop from a handler never
// returns.
type PacketHandler func(p *packet.Packet) error

// HandlerID identifies a registered handler.
type HandlerID string

type handlerEntry struct {
	id HandlerID
	fn PacketHandler
}

type registry struct {
	mu      sync.Mutex
	entries []handlerEntry
	limit   int
}

func newRegistry(limit int) *registry {
	return &registry{limit: limit}
}

func (r *registry) register(fn PacketHandler) (HandlerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.limit {
		return "", ErrOutOfMemory
	}
	id := HandlerID(uuid.New().String())
	r.entries = append(r.entries, handlerEntry{id: id, fn: fn})
	return id, nil
}

func (r *registry) unregister(id HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns the handlers in registration order. The slice is never
// mutated in place, so callers may iterate it without the lock.
func (r *registry) snapshot() []handlerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
