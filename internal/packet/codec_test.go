package packet

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dummyPacket(payloadLen int) *Packet {
	p := &Packet{
		HWAddrGlobal:    1,
		LatencyCritical: true,
		SrcIDP:          0x03040506,
		DstIDP:          0x0708090a,
		Payload:         make([]byte, payloadLen),
	}
	for i := range p.Payload {
		p.Payload[i] = byte(i + 11)
	}
	return p
}

func TestCodec_EncodeLayout(t *testing.T) {
	p := &Packet{
		HWAddrLocal:     2,
		HWAddrGlobal:    0x0b,
		Priority:        3,
		Direction:       Ingress,
		LatencyCritical: true,
		SrcIDP:          0x01020304,
		DstIDP:          0xa0b0c0d0,
		Payload:         []byte{0xde, 0xad},
	}
	got := Codec{}.Encode(p)

	want := []byte{
		0x00, 0x00, 0x00, 0x0c, // totalLength = 2 + 10
		0x0b | 2<<4 | 3<<6, // header1
		0x01 | 0x02, // header2
		0x01, 0x02, 0x03, 0x04,
		0xa0, 0xb0, 0xc0, 0xd0,
		0xde, 0xad,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Encode() mismatch (-want +got):\n%s", diff)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	codecs := []Codec{{}, {HeaderSize: 10}, {HeaderSize: 16}}

	for _, c := range codecs {
		for i := 0; i < 200; i++ {
			p := &Packet{
				HWAddrLocal:     uint8(rng.Intn(MaxHWAddrLocal + 1)),
				HWAddrGlobal:    uint8(rng.Intn(MaxHWAddrGlobal + 1)),
				Priority:        uint8(rng.Intn(MaxPriority + 1)),
				Direction:       Direction(rng.Intn(2)),
				LatencyCritical: rng.Intn(2) == 1,
				SrcIDP:          rng.Uint32(),
				DstIDP:          rng.Uint32(),
				Payload:         make([]byte, 1+rng.Intn(64)),
			}
			rng.Read(p.Payload)
			require.NoError(t, p.Validate())

			rec := c.Encode(p)
			require.Len(t, rec, c.RecordLen(len(p.Payload)))

			got, err := c.Decode(rec)
			require.NoError(t, err)
			if diff := cmp.Diff(p, got); diff != "" {
				t.Fatalf("header %d round trip mismatch (-want +got):\n%s", c.HeaderSize, diff)
			}
		}
	}
}

func TestCodec_DecodeReadsDstFromItsOwnField(t *testing.T) {
	p := dummyPacket(18)
	got, err := Codec{}.Decode(Codec{}.Encode(p))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x03040506), got.SrcIDP)
	assert.Equal(t, uint32(0x0708090a), got.DstIDP)
}

func TestCodec_ReservedHeaderBytesAreZero(t *testing.T) {
	c := Codec{HeaderSize: 14}
	rec := c.Encode(dummyPacket(3))
	assert.Equal(t, []byte{0, 0, 0, 0}, rec[14:18])
	assert.Equal(t, uint32(3+14), binary.BigEndian.Uint32(rec))
}

func TestCodec_DecodeErrors(t *testing.T) {
	good := Codec{}.Encode(dummyPacket(4))

	tests := []struct {
		name string
		rec  []byte
	}{
		{"short", good[:8]},
		{"truncated payload", good[:len(good)-1]},
		{"trailing byte", append(append([]byte(nil), good...), 0)},
		{"empty payload", []byte{0, 0, 0, 10, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Codec{}.Decode(tt.rec)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestCodec_Lengths(t *testing.T) {
	c := Codec{}
	assert.Equal(t, 14, c.PrefixLen())
	assert.Equal(t, 24, c.RecordLen(10))
	assert.Equal(t, 24, c.AlignedLen(10))
	assert.Equal(t, 28, c.AlignedLen(11))
	assert.Equal(t, 32, c.AlignedLen(18))
}

func TestNewCodec(t *testing.T) {
	_, err := NewCodec(9)
	assert.Error(t, err)
	c, err := NewCodec(12)
	require.NoError(t, err)
	assert.Equal(t, 16, c.PrefixLen())
}

func TestPacket_Validate(t *testing.T) {
	var nilPacket *Packet
	tests := []struct {
		name string
		p    *Packet
		ok   bool
	}{
		{"nil", nilPacket, false},
		{"empty payload", &Packet{}, false},
		{"global too wide", &Packet{HWAddrGlobal: 16, Payload: []byte{1}}, false},
		{"local too wide", &Packet{HWAddrLocal: 4, Payload: []byte{1}}, false},
		{"priority too wide", &Packet{Priority: 4, Payload: []byte{1}}, false},
		{"bad direction", &Packet{Direction: 2, Payload: []byte{1}}, false},
		{"dummy", dummyPacket(18), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}
