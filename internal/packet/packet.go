// Package packet defines the NoC packet, its ring/stream wire encoding and the
// FIFO queue that feeds packets between producer and worker goroutines.
package packet

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid is returned by Validate for packets that cannot be sent.
	ErrInvalid = errors.New("invalid packet")
	// ErrMalformed is returned when an encoded record cannot be decoded.
	ErrMalformed = errors.New("malformed packet record")
	// ErrNoData is returned by Queue.Poll on an empty queue.
	ErrNoData = errors.New("no packet queued")
	// ErrQueueFull is returned by Queue.Add when the queue limit is reached.
	ErrQueueFull = errors.New("packet queue full")
	// ErrQueueClosed is returned by Queue.Add once the queue is closed.
	ErrQueueClosed = errors.New("packet queue closed")
)

// Header field limits. Values are masked to these widths on the wire.
const (
	MaxHWAddrGlobal = 0x0f
	MaxHWAddrLocal  = 0x03
	MaxPriority     = 0x03
)

// Direction is the NoC traversal direction carried in header2.
type Direction uint8

const (
	Egress  Direction = 0
	Ingress Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Egress:
		return "egress"
	case Ingress:
		return "ingress"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Packet is one NoC message. A packet handed to a queue is owned by it; the
// submitter must not touch Payload afterwards.
type Packet struct {
	HWAddrLocal     uint8     `json:"hw_addr_local"`
	HWAddrGlobal    uint8     `json:"hw_addr_global"`
	Priority        uint8     `json:"priority"`
	Direction       Direction `json:"direction"`
	LatencyCritical bool      `json:"latency_critical"`
	SrcIDP          uint32    `json:"src_idp"`
	DstIDP          uint32    `json:"dst_idp"`
	Payload         []byte    `json:"payload"`
}

// Validate reports whether p can be encoded without losing information.
func (p *Packet) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil packet", ErrInvalid)
	}
	if len(p.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalid)
	}
	if p.HWAddrGlobal > MaxHWAddrGlobal {
		return fmt.Errorf("%w: hw_addr_global %d exceeds %d", ErrInvalid, p.HWAddrGlobal, MaxHWAddrGlobal)
	}
	if p.HWAddrLocal > MaxHWAddrLocal {
		return fmt.Errorf("%w: hw_addr_local %d exceeds %d", ErrInvalid, p.HWAddrLocal, MaxHWAddrLocal)
	}
	if p.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d exceeds %d", ErrInvalid, p.Priority, MaxPriority)
	}
	if p.Direction > Ingress {
		return fmt.Errorf("%w: direction %d", ErrInvalid, p.Direction)
	}
	return nil
}

func (p *Packet) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("packet{src=0x%08x dst=0x%08x global=%d local=%d prio=%d dir=%s latcrit=%t len=%d}",
		p.SrcIDP, p.DstIDP, p.HWAddrGlobal, p.HWAddrLocal, p.Priority, p.Direction, p.LatencyCritical, len(p.Payload))
}
