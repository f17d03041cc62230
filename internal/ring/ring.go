// Package ring implements the byte ring buffer shared between the bridge and
// a hardware peer. Ring is the producer side used by the send path; Consumer
// is the hardware-side reader used by simulated peers.
package ring

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/banshee-data/nocbridge/internal/packet"
)

// MinCapacity is the smallest ring that can hold a minimal record.
const MinCapacity = 16

var (
	// ErrNoSpace is returned by Write when the record does not fit.
	ErrNoSpace = errors.New("ring buffer full")
	// ErrProtocol is returned when the peer reports an impossible offset.
	ErrProtocol = errors.New("ring offset protocol violation")
	// ErrReleased is returned after Release.
	ErrReleased = errors.New("ring buffer released")
)

// Ring is a fixed-capacity circular byte buffer with a producer write offset,
// the last read offset reported by the consumer, and the last write offset
// published to the consumer. All offsets are in bytes modulo capacity.
//
// Mutating methods must be serialised by the caller (the send path holds its
// pointers lock). Offsets are atomics so snapshot readers never see torn
// values.
type Ring struct {
	buf      []byte
	capacity uint32
	margin   uint32
	codec    packet.Codec
	prefix   []byte

	write   atomic.Uint32
	read    atomic.Uint32
	hwWrite atomic.Uint32
}

// New allocates a ring of capacity bytes. margin bytes of free space are never
// handed out, on top of the one byte that separates full from empty.
func New(capacity, margin int, codec packet.Codec) (*Ring, error) {
	if capacity < MinCapacity || capacity%4 != 0 {
		return nil, fmt.Errorf("ring capacity %d must be a multiple of 4 and at least %d", capacity, MinCapacity)
	}
	if margin < 0 || margin >= capacity-1 {
		return nil, fmt.Errorf("ring safety margin %d out of range for capacity %d", margin, capacity)
	}
	return &Ring{
		buf:      make([]byte, capacity),
		capacity: uint32(capacity),
		margin:   uint32(margin),
		codec:    codec,
		prefix:   make([]byte, codec.PrefixLen()),
	}, nil
}

// Bytes returns the shared region handed to the hardware peer.
func (r *Ring) Bytes() []byte { return r.buf }

// Capacity returns the ring size in bytes.
func (r *Ring) Capacity() int { return int(r.capacity) }

// WriteOffset returns the local write offset.
func (r *Ring) WriteOffset() uint32 { return r.write.Load() }

// ReadOffset returns the last read offset reported by the peer.
func (r *Ring) ReadOffset() uint32 { return r.read.Load() }

// HWWriteOffset returns the last write offset published to the peer.
func (r *Ring) HWWriteOffset() uint32 { return r.hwWrite.Load() }

// FreeSpace returns the bytes between the write offset and the last known
// read offset, keeping one byte free to tell full from empty.
func (r *Ring) FreeSpace() int {
	return int((r.capacity + r.read.Load() - r.write.Load() - 1) % r.capacity)
}

// Available is FreeSpace less the safety margin.
func (r *Ring) Available() int {
	free := r.FreeSpace() - int(r.margin)
	if free < 0 {
		return 0
	}
	return free
}

// CanFit reports whether the aligned record for p fits in the available space.
func (r *Ring) CanFit(p *packet.Packet) bool {
	if r.buf == nil {
		return false
	}
	return r.Available() >= r.codec.AlignedLen(len(p.Payload))
}

// Write encodes p at the write offset, wrapping at the physical end, and
// advances the offset to the next 4-byte boundary. It returns the number of
// ring bytes consumed including padding.
func (r *Ring) Write(p *packet.Packet) (int, error) {
	if r.buf == nil {
		return 0, ErrReleased
	}
	if !r.CanFit(p) {
		return 0, fmt.Errorf("%w: need %d bytes, %d available", ErrNoSpace, r.codec.AlignedLen(len(p.Payload)), r.Available())
	}

	r.codec.PutPrefix(r.prefix, p)
	off := r.write.Load()
	off = r.copyIn(off, r.prefix)
	off = r.copyIn(off, p.Payload)

	n := r.codec.AlignedLen(len(p.Payload))
	if pad := n - r.codec.RecordLen(len(p.Payload)); pad > 0 {
		var zero [3]byte
		off = r.copyIn(off, zero[:pad])
	}
	r.write.Store(off)
	return n, nil
}

// copyIn writes data at off, splitting the copy when it crosses the end of
// the buffer, and returns the offset just past it.
func (r *Ring) copyIn(off uint32, data []byte) uint32 {
	n := copy(r.buf[off:], data)
	if n < len(data) {
		copy(r.buf, data[n:])
	}
	return (off + uint32(len(data))) % r.capacity
}

// AlmostFull reports whether the space between the local write offset and
// the last published write offset has dropped below threshold bytes.
func (r *Ring) AlmostFull(threshold int) bool {
	return int((r.capacity+r.hwWrite.Load()-r.write.Load()-1)%r.capacity) < threshold
}

// Publish records the current write offset as handed to the peer and
// returns it in words.
func (r *Ring) Publish() uint32 {
	w := r.write.Load()
	r.hwWrite.Store(w)
	return w / 4
}

// Unpublished returns the bytes written since the last Publish.
func (r *Ring) Unpublished() int {
	return int((r.capacity + r.write.Load() - r.hwWrite.Load()) % r.capacity)
}

// UpdateReadOffset stores a read offset reported by the peer. The offset must
// be aligned and lie between the previous read offset and the last published
// write offset.
func (r *Ring) UpdateReadOffset(off uint32) error {
	if off%4 != 0 || off >= r.capacity {
		return fmt.Errorf("%w: read offset %d invalid for capacity %d", ErrProtocol, off, r.capacity)
	}
	old := r.read.Load()
	if r.distance(old, off) > r.distance(old, r.hwWrite.Load()) {
		return fmt.Errorf("%w: read offset %d passes published write offset %d", ErrProtocol, off, r.hwWrite.Load())
	}
	r.read.Store(off)
	return nil
}

func (r *Ring) distance(from, to uint32) uint32 {
	return (r.capacity + to - from) % r.capacity
}

// State is a point-in-time view of the ring offsets.
type State struct {
	Capacity      int    `json:"capacity"`
	WriteOffset   uint32 `json:"write_offset"`
	ReadOffset    uint32 `json:"read_offset"`
	HWWriteOffset uint32 `json:"hw_write_offset"`
	FreeSpace     int    `json:"free_space"`
	Unpublished   int    `json:"unpublished"`
}

// Snapshot returns the current offsets.
func (r *Ring) Snapshot() State {
	return State{
		Capacity:      int(r.capacity),
		WriteOffset:   r.WriteOffset(),
		ReadOffset:    r.ReadOffset(),
		HWWriteOffset: r.HWWriteOffset(),
		FreeSpace:     r.FreeSpace(),
		Unpublished:   r.Unpublished(),
	}
}

// Dump writes the offsets followed by a hex dump of the buffer.
func (r *Ring) Dump(w io.Writer) error {
	s := r.Snapshot()
	if _, err := fmt.Fprintf(w, "capacity=%d write=%d read=%d hw_write=%d free=%d\n",
		s.Capacity, s.WriteOffset, s.ReadOffset, s.HWWriteOffset, s.FreeSpace); err != nil {
		return err
	}
	if r.buf == nil {
		_, err := io.WriteString(w, "(released)\n")
		return err
	}
	d := hex.Dumper(w)
	if _, err := d.Write(r.buf); err != nil {
		return err
	}
	return d.Close()
}

// Release drops the buffer. Later writes fail with ErrReleased.
func (r *Ring) Release() {
	r.buf = nil
}
