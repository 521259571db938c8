package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/synguard/internal/config"
)

func init() {
	Register(config.SourcePcap, func(cfg config.CaptureConfig, _ int) (Source, error) {
		return OpenPcap(cfg.PcapFile)
	})
}

const pcapngMagic = 0x0A0D0D0A

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// PcapSource replays a pcap or pcapng file. ReadPacketData returns io.EOF
// at the end of the file.
type PcapSource struct {
	f    *os.File
	r    packetReader
	link layers.LinkType
}

// OpenPcap opens a capture file, detecting pcap or pcapng from its magic.
func OpenPcap(path string) (*PcapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	s, err := NewPcapReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read capture file %s: %w", path, err)
	}
	s.f = f
	return s, nil
}

// NewPcapReader reads a pcap or pcapng stream. Close is a no-op.
func NewPcapReader(r io.Reader) (*PcapSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}

	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		return &PcapSource{r: ng, link: ng.LinkType()}, nil
	}

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, err
	}
	return &PcapSource{r: pr, link: pr.LinkType()}, nil
}

func (s *PcapSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return s.r.ReadPacketData()
}

func (s *PcapSource) LinkType() layers.LinkType { return s.link }

func (s *PcapSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// PcapWriter records injected frames to a pcap stream instead of a wire,
// used by offline replay. It is safe for concurrent use.
type PcapWriter struct {
	mu sync.Mutex
	w  *pcapgo.Writer
}

// NewPcapWriter writes the file header and returns the writer.
func NewPcapWriter(w io.Writer, link layers.LinkType, snapLen uint32) (*PcapWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, link); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &PcapWriter{w: pw}, nil
}

// WritePacketData records data stamped with the wall clock.
func (p *PcapWriter) WritePacketData(data []byte) error {
	return p.WritePacketDataAt(data, time.Now())
}

// WritePacketDataAt records data stamped with ts.
func (p *PcapWriter) WritePacketDataAt(data []byte, ts time.Time) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.WritePacket(ci, data)
}
