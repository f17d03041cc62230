package ring

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/nocbridge/internal/packet"
)

// Consumer reads records out of a ring written by Ring. It plays the
// hardware's part: given a published write offset it decodes every complete
// record up to that offset and advances its read offset.
type Consumer struct {
	buf      []byte
	capacity uint32
	codec    packet.Codec
	read     uint32
}

// NewConsumer returns a consumer over buf, which must be the Bytes of the
// producing Ring.
func NewConsumer(buf []byte, codec packet.Codec) (*Consumer, error) {
	if len(buf) < MinCapacity || len(buf)%4 != 0 {
		return nil, fmt.Errorf("consumer ring size %d invalid", len(buf))
	}
	return &Consumer{buf: buf, capacity: uint32(len(buf)), codec: codec}, nil
}

// ReadOffset returns the consumer's read offset in bytes.
func (c *Consumer) ReadOffset() uint32 { return c.read }

// Drain decodes records from the read offset up to writeOffset.
func (c *Consumer) Drain(writeOffset uint32) ([]*packet.Packet, error) {
	if writeOffset%4 != 0 || writeOffset >= c.capacity {
		return nil, fmt.Errorf("%w: write offset %d invalid for capacity %d", ErrProtocol, writeOffset, c.capacity)
	}

	var out []*packet.Packet
	for c.read != writeOffset {
		avail := int((c.capacity + writeOffset - c.read) % c.capacity)
		if avail < c.codec.PrefixLen() {
			return out, fmt.Errorf("%w: %d bytes left before write offset, record prefix needs %d", ErrProtocol, avail, c.codec.PrefixLen())
		}
		var lenField [packet.LengthFieldSize]byte
		c.copyOut(c.read, lenField[:])
		recLen := packet.LengthFieldSize + int(binary.BigEndian.Uint32(lenField[:]))
		if packet.Align4(recLen) > avail {
			return out, fmt.Errorf("%w: record of %d bytes overruns write offset", ErrProtocol, recLen)
		}

		rec := make([]byte, recLen)
		c.copyOut(c.read, rec)
		p, err := c.codec.Decode(rec)
		if err != nil {
			return out, err
		}
		out = append(out, p)
		c.read = (c.read + uint32(packet.Align4(recLen))) % c.capacity
	}
	return out, nil
}

func (c *Consumer) copyOut(off uint32, dst []byte) {
	n := copy(dst, c.buf[off:])
	if n < len(dst) {
		copy(dst[n:], c.buf)
	}
}
