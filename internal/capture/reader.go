package capture

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/nocbridge/internal/packet"
)

// Record is one captured packet.
type Record struct {
	Time   time.Time
	Path   Path
	Packet *packet.Packet
}

// Read decodes every record in a pcap stream written by a Tap.
func Read(r io.Reader) ([]Record, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	if pr.LinkType() != LinkTypeNoC {
		return nil, fmt.Errorf("capture link type %d is not NoC (%d)", pr.LinkType(), LinkTypeNoC)
	}

	var out []Record
	for {
		data, ci, err := pr.ReadPacketData()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}

		pkt := gopacket.NewPacket(data, LayerTypeNoC, gopacket.Default)
		if el := pkt.ErrorLayer(); el != nil {
			return out, fmt.Errorf("record %d: %w", len(out), el.Error())
		}
		n, ok := pkt.Layer(LayerTypeNoC).(*NoC)
		if !ok {
			return out, fmt.Errorf("record %d: no NoC layer", len(out))
		}
		out = append(out, Record{Time: ci.Timestamp, Path: n.Path, Packet: n.Packet})
	}
}

// ReadFile decodes the capture at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
