package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/nocbridge/internal/monitoring"
	"github.com/banshee-data/nocbridge/internal/noc"
	"github.com/banshee-data/nocbridge/internal/packet"
)

// snapLen is large enough for any record a 16-bit header size allows.
const snapLen = 262144

// Tap is a noc.Observer that appends every packed and unpacked packet to a
// pcap stream.
type Tap struct {
	noc.BaseObserver

	headerSize int
	now        func() time.Time

	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	written int
	err     error
}

// NewTap writes the pcap file header to w and returns a tap that encodes
// records with the given header size.
func NewTap(w io.Writer, headerSize int) (*Tap, error) {
	if _, err := packet.NewCodec(headerSize); err != nil {
		return nil, err
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, LinkTypeNoC); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Tap{headerSize: headerSize, now: time.Now, w: pw}, nil
}

// Create opens path for writing and returns a tap over it. Close closes the
// file.
func Create(path string, headerSize int) (*Tap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	t, err := NewTap(f, headerSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	t.closer = f
	return t, nil
}

func (t *Tap) PacketWritten(ev noc.WriteEvent) {
	t.write(PathSend, ev.Time, ev.Packet)
}

func (t *Tap) PacketReceived(p *packet.Packet) {
	t.write(PathReceive, t.now(), p)
}

func (t *Tap) write(path Path, at time.Time, p *packet.Packet) {
	buf := gopacket.NewSerializeBuffer()
	layer := &NoC{Path: path, HeaderSize: t.headerSize, Packet: p}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, layer); err != nil {
		t.fail(err)
		return
	}
	data := buf.Bytes()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	ci := gopacket.CaptureInfo{Timestamp: at, CaptureLength: len(data), Length: len(data)}
	if err := t.w.WritePacket(ci, data); err != nil {
		t.err = err
		monitoring.Logf("[capture] write failed, capture stopped: %v", err)
		return
	}
	t.written++
}

func (t *Tap) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
		monitoring.Logf("[capture] encode failed, capture stopped: %v", err)
	}
}

// Written returns the number of packets captured.
func (t *Tap) Written() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

// Err returns the error that stopped the capture, if any.
func (t *Tap) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close closes the underlying file when the tap was made by Create.
func (t *Tap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closer == nil {
		return t.err
	}
	err := t.closer.Close()
	t.closer = nil
	if t.err != nil {
		return t.err
	}
	return err
}
