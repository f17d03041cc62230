package packet

import "fmt"

// LastByteFlag marks the final byte of a record in the receive word stream.
// Each stream word carries one byte in bits 0-7.
const LastByteFlag uint32 = 0x100

// StreamWords converts an encoded record into receive-stream words.
func StreamWords(rec []byte) []uint32 {
	words := make([]uint32, len(rec))
	for i, b := range rec {
		words[i] = uint32(b)
	}
	if len(words) > 0 {
		words[len(words)-1] |= LastByteFlag
	}
	return words
}

// StreamDecoder reassembles records from receive-stream words.
type StreamDecoder struct {
	codec  Codec
	maxLen int
	buf    []byte
}

// NewStreamDecoder returns a decoder that rejects records longer than maxLen
// bytes (including the length field). A maxLen of zero disables the limit.
func NewStreamDecoder(codec Codec, maxLen int) *StreamDecoder {
	return &StreamDecoder{codec: codec, maxLen: maxLen}
}

// Push consumes one word. It returns the decoded packet when the word ends a
// record and nil while a record is still incomplete. After an error the
// partial record is discarded.
func (d *StreamDecoder) Push(word uint32) (*Packet, error) {
	d.buf = append(d.buf, byte(word))
	if d.maxLen > 0 && len(d.buf) > d.maxLen {
		n := len(d.buf)
		d.buf = d.buf[:0]
		return nil, fmt.Errorf("%w: stream record exceeds %d bytes (got %d)", ErrMalformed, d.maxLen, n)
	}
	if word&LastByteFlag == 0 {
		return nil, nil
	}
	rec := d.buf
	d.buf = d.buf[:0]
	return d.codec.Decode(rec)
}

// Pending returns the number of buffered bytes of an incomplete record.
func (d *StreamDecoder) Pending() int {
	return len(d.buf)
}
