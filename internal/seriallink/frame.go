package seriallink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/nocbridge/internal/hwt"
)

// FrameType is the first byte of every UART frame.
type FrameType uint8

const (
	// FrameWord carries one mailbox word: [slot u8][word u32 BE].
	FrameWord FrameType = 1
	// FrameRing carries ring bytes to the device: [slot u8][offset u32 BE][bytes].
	FrameRing FrameType = 2
)

const (
	frameHeaderSize = 3
	// MaxFrameBody is the largest body a length field can describe.
	MaxFrameBody = 0xffff
	// maxRingChunk keeps ring frames well under MaxFrameBody.
	maxRingChunk = 4096
)

// ErrBadFrame is returned for frames that cannot be decoded.
var ErrBadFrame = errors.New("bad serial frame")

// Frame is one decoded UART frame.
type Frame struct {
	Type   FrameType
	Slot   hwt.Slot
	Word   uint32
	Offset uint32
	Data   []byte
}

// WriteFrame encodes f as [type][len u16 BE][body] and writes it in one call.
func WriteFrame(w io.Writer, f Frame) error {
	var body []byte
	switch f.Type {
	case FrameWord:
		body = make([]byte, 5)
		body[0] = byte(f.Slot)
		binary.BigEndian.PutUint32(body[1:], f.Word)
	case FrameRing:
		body = make([]byte, 5+len(f.Data))
		body[0] = byte(f.Slot)
		binary.BigEndian.PutUint32(body[1:], f.Offset)
		copy(body[5:], f.Data)
	default:
		return fmt.Errorf("%w: unknown type %d", ErrBadFrame, f.Type)
	}
	if len(body) > MaxFrameBody {
		return fmt.Errorf("%w: body of %d bytes", ErrBadFrame, len(body))
	}

	buf := make([]byte, frameHeaderSize+len(body))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(body)))
	copy(buf[frameHeaderSize:], body)

	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrWriteFailed
	}
	return nil
}

// ReadFrame reads and decodes the next frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	body := make([]byte, binary.BigEndian.Uint16(hdr[1:3]))
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	f := Frame{Type: FrameType(hdr[0])}
	if len(body) < 5 {
		return Frame{}, fmt.Errorf("%w: type %d body of %d bytes", ErrBadFrame, f.Type, len(body))
	}
	f.Slot = hwt.Slot(body[0])
	switch f.Type {
	case FrameWord:
		if len(body) != 5 {
			return Frame{}, fmt.Errorf("%w: word body of %d bytes", ErrBadFrame, len(body))
		}
		f.Word = binary.BigEndian.Uint32(body[1:])
	case FrameRing:
		f.Offset = binary.BigEndian.Uint32(body[1:5])
		f.Data = body[5:]
	default:
		return Frame{}, fmt.Errorf("%w: unknown type %d", ErrBadFrame, f.Type)
	}
	return f, nil
}
