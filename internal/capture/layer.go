// Package capture records bridge traffic as pcap files. Each pcap packet is
// one NoC record wrapped in a small layer that says which ring it crossed,
// so captures open in any pcap tool and decode with gopacket.
package capture

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/banshee-data/nocbridge/internal/packet"
)

// LinkTypeNoC is DLT_USER0, the link type reserved for private encapsulations.
const LinkTypeNoC layers.LinkType = 147

// Path says which direction a captured record travelled.
type Path uint8

const (
	PathSend    Path = 0 // software to hardware
	PathReceive Path = 1 // hardware to software
)

func (p Path) String() string {
	switch p {
	case PathSend:
		return "sw2hw"
	case PathReceive:
		return "hw2sw"
	default:
		return fmt.Sprintf("Path(%d)", uint8(p))
	}
}

const nocLayerHeader = 3

// LayerTypeNoC decodes the capture encapsulation.
var LayerTypeNoC = gopacket.RegisterLayerType(2100, gopacket.LayerTypeMetadata{
	Name:    "NoC",
	Decoder: gopacket.DecodeFunc(decodeNoC),
})

// NoC is the capture layer: [path u8][header size u16 BE][record], where
// record is the ring encoding of the packet.
type NoC struct {
	layers.BaseLayer
	Path       Path
	HeaderSize int
	Packet     *packet.Packet
}

func (n *NoC) LayerType() gopacket.LayerType { return LayerTypeNoC }

func (n *NoC) CanDecode() gopacket.LayerClass { return LayerTypeNoC }

func (n *NoC) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

// DecodeFromBytes implements gopacket.DecodingLayer.
func (n *NoC) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < nocLayerHeader {
		df.SetTruncated()
		return fmt.Errorf("NoC layer of %d bytes is truncated", len(data))
	}
	codec, err := packet.NewCodec(int(binary.BigEndian.Uint16(data[1:3])))
	if err != nil {
		return err
	}
	p, err := codec.Decode(data[nocLayerHeader:])
	if err != nil {
		return err
	}
	n.BaseLayer = layers.BaseLayer{Contents: data}
	n.Path = Path(data[0])
	n.HeaderSize = codec.HeaderSize
	n.Packet = p
	return nil
}

// SerializeTo implements gopacket.SerializableLayer.
func (n *NoC) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	codec, err := packet.NewCodec(n.HeaderSize)
	if err != nil {
		return err
	}
	rec := codec.Encode(n.Packet)
	buf, err := b.PrependBytes(nocLayerHeader + len(rec))
	if err != nil {
		return err
	}
	buf[0] = byte(n.Path)
	binary.BigEndian.PutUint16(buf[1:3], uint16(codec.HeaderSize))
	copy(buf[nocLayerHeader:], rec)
	return nil
}

func decodeNoC(data []byte, p gopacket.PacketBuilder) error {
	n := &NoC{}
	if err := n.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(n)
	return nil
}
