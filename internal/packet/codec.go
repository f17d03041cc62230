package packet

import (
	"encoding/binary"
	"fmt"
)

const (
	// LengthFieldSize is the size of the big-endian totalLength prefix.
	LengthFieldSize = 4
	// MinHeaderSize covers header1, header2, srcIdp and dstIdp.
	MinHeaderSize = 10
)

// Header bit layout.
const (
	globalShift  = 0
	localShift   = 4
	prioShift    = 6
	dirShift     = 0
	latcritShift = 1
)

// Align4 rounds n up to the next multiple of four.
func Align4(n int) int {
	return (n + 3) &^ 3
}

// Codec encodes packets into length-prefixed records:
//
//	[u32 totalLength][header1][header2][u32 srcIdp][u32 dstIdp][reserved][payload]
//
// totalLength counts the header and payload but not itself. HeaderSize may
// exceed MinHeaderSize; the extra bytes are written as zero and skipped on
// decode. The zero Codec uses MinHeaderSize.
type Codec struct {
	HeaderSize int
}

// NewCodec returns a codec for the given header size.
func NewCodec(headerSize int) (Codec, error) {
	if headerSize < MinHeaderSize {
		return Codec{}, fmt.Errorf("header size %d below minimum %d", headerSize, MinHeaderSize)
	}
	if headerSize > 0xffff {
		return Codec{}, fmt.Errorf("header size %d too large", headerSize)
	}
	return Codec{HeaderSize: headerSize}, nil
}

func (c Codec) headerSize() int {
	if c.HeaderSize < MinHeaderSize {
		return MinHeaderSize
	}
	return c.HeaderSize
}

// PrefixLen is the number of bytes written before the payload.
func (c Codec) PrefixLen() int {
	return LengthFieldSize + c.headerSize()
}

// RecordLen is the unpadded encoded size of a packet with the given payload.
func (c Codec) RecordLen(payloadLen int) int {
	return c.PrefixLen() + payloadLen
}

// AlignedLen is RecordLen rounded up to the 4-byte ring alignment.
func (c Codec) AlignedLen(payloadLen int) int {
	return Align4(c.RecordLen(payloadLen))
}

// PutPrefix writes the length field and header of p into dst, which must be
// at least PrefixLen bytes long.
func (c Codec) PutPrefix(dst []byte, p *Packet) {
	hs := c.headerSize()
	binary.BigEndian.PutUint32(dst[0:4], uint32(len(p.Payload)+hs))
	dst[4] = EncodeHeader1(p)
	dst[5] = EncodeHeader2(p)
	binary.BigEndian.PutUint32(dst[6:10], p.SrcIDP)
	binary.BigEndian.PutUint32(dst[10:14], p.DstIDP)
	clear(dst[LengthFieldSize+MinHeaderSize : LengthFieldSize+hs])
}

// Encode returns the unpadded record for p.
func (c Codec) Encode(p *Packet) []byte {
	buf := make([]byte, c.RecordLen(len(p.Payload)))
	c.PutPrefix(buf, p)
	copy(buf[c.PrefixLen():], p.Payload)
	return buf
}

// Decode parses one record. The record must be exactly 4+totalLength bytes
// and carry a non-empty payload. The payload is copied out of rec.
func (c Codec) Decode(rec []byte) (*Packet, error) {
	hs := c.headerSize()
	if len(rec) < LengthFieldSize+hs {
		return nil, fmt.Errorf("%w: %d bytes shorter than %d byte prefix", ErrMalformed, len(rec), LengthFieldSize+hs)
	}
	total := int(binary.BigEndian.Uint32(rec[0:4]))
	if total != len(rec)-LengthFieldSize {
		return nil, fmt.Errorf("%w: length field %d, record carries %d", ErrMalformed, total, len(rec)-LengthFieldSize)
	}
	if total <= hs {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	p := &Packet{
		SrcIDP: binary.BigEndian.Uint32(rec[6:10]),
		DstIDP: binary.BigEndian.Uint32(rec[10:14]),
	}
	DecodeHeader1(rec[4], p)
	DecodeHeader2(rec[5], p)
	p.Payload = append([]byte(nil), rec[LengthFieldSize+hs:]...)
	return p, nil
}

// EncodeHeader1 packs global, local and priority into one byte.
func EncodeHeader1(p *Packet) byte {
	return (p.HWAddrGlobal&MaxHWAddrGlobal)<<globalShift |
		(p.HWAddrLocal&MaxHWAddrLocal)<<localShift |
		(p.Priority&MaxPriority)<<prioShift
}

// EncodeHeader2 packs direction and the latency-critical flag.
func EncodeHeader2(p *Packet) byte {
	var b byte
	b |= (byte(p.Direction) & 1) << dirShift
	if p.LatencyCritical {
		b |= 1 << latcritShift
	}
	return b
}

// DecodeHeader1 unpacks header1 into p.
func DecodeHeader1(b byte, p *Packet) {
	p.HWAddrGlobal = (b >> globalShift) & MaxHWAddrGlobal
	p.HWAddrLocal = (b >> localShift) & MaxHWAddrLocal
	p.Priority = (b >> prioShift) & MaxPriority
}

// DecodeHeader2 unpacks header2 into p.
func DecodeHeader2(b byte, p *Packet) {
	p.Direction = Direction((b >> dirShift) & 1)
	p.LatencyCritical = (b>>latcritShift)&1 == 1
}
