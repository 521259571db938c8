// Package testutil builds wire-format frames for tests.
package testutil

import (
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Segment describes a TCP/IPv4 frame to build.
type Segment struct {
	Src, Dst         string // IPv4 addresses
	SrcPort, DstPort uint16
	SYN, ACK         bool
	RST, FIN, PSH    bool
	Seq, Ack         uint32
	Window           uint16
	Options          []layers.TCPOption
	Payload          []byte
	Raw              bool // omit the Ethernet header
}

var (
	ClientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	ServerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Frame serializes s with gopacket, computing lengths and checksums.
// It panics on serialization errors, which only happen for invalid test input.
func Frame(s Segment) []byte {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP(netip.MustParseAddr(s.Src).AsSlice()),
		DstIP:    net.IP(netip.MustParseAddr(s.Dst).AsSlice()),
	}
	window := s.Window
	if window == 0 {
		window = 64240
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.SrcPort),
		DstPort: layers.TCPPort(s.DstPort),
		Seq:     s.Seq,
		Ack:     s.Ack,
		SYN:     s.SYN,
		ACK:     s.ACK,
		RST:     s.RST,
		FIN:     s.FIN,
		PSH:     s.PSH,
		Window:  window,
		Options: s.Options,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var err error
	if s.Raw {
		err = gopacket.SerializeLayers(buf, opts, ip, tcp, gopacket.Payload(s.Payload))
	} else {
		eth := &layers.Ethernet{
			SrcMAC:       ClientMAC,
			DstMAC:       ServerMAC,
			EthernetType: layers.EthernetTypeIPv4,
		}
		err = gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(s.Payload))
	}
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// SYN builds a bare SYN from src:sport to dst:dport with typical Linux options.
func SYN(src string, sport uint16, dst string, dport uint16, seq uint32) []byte {
	return Frame(Segment{
		Src: src, Dst: dst, SrcPort: sport, DstPort: dport,
		SYN: true, Seq: seq,
		Options: []layers.TCPOption{
			MSSOption(1460),
			{OptionType: layers.TCPOptionKindSACKPermitted, OptionLength: 2},
			TimestampOption(1000, 0),
			{OptionType: layers.TCPOptionKindNop},
			{OptionType: layers.TCPOptionKindWindowScale, OptionLength: 3, OptionData: []byte{7}},
		},
	})
}

// ACK builds the final handshake ACK for a previously sent SYN.
func ACK(src string, sport uint16, dst string, dport uint16, seq, ack uint32) []byte {
	return Frame(Segment{
		Src: src, Dst: dst, SrcPort: sport, DstPort: dport,
		ACK: true, Seq: seq, Ack: ack,
	})
}

// MSSOption returns an MSS TCP option.
func MSSOption(mss uint16) layers.TCPOption {
	return layers.TCPOption{
		OptionType:   layers.TCPOptionKindMSS,
		OptionLength: 4,
		OptionData:   []byte{byte(mss >> 8), byte(mss)},
	}
}

// TimestampOption returns a TCP timestamps option.
func TimestampOption(val, ecr uint32) layers.TCPOption {
	return layers.TCPOption{
		OptionType:   layers.TCPOptionKindTimestamps,
		OptionLength: 10,
		OptionData: []byte{
			byte(val >> 24), byte(val >> 16), byte(val >> 8), byte(val),
			byte(ecr >> 24), byte(ecr >> 16), byte(ecr >> 8), byte(ecr),
		},
	}
}
